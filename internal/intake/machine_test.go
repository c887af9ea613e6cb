// ABOUTME: End-to-end tests for the intake state machine
// ABOUTME: Drives the full order and free-form flows against a real SQLite store

package intake

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enzopromo/promo-gateway/internal/catalog"
	"github.com/enzopromo/promo-gateway/internal/config"
	"github.com/enzopromo/promo-gateway/internal/store"
	"github.com/enzopromo/promo-gateway/internal/transport"
)

type fakeNotifier struct {
	mu         sync.Mutex
	directives []transport.Directive
	err        error
}

func (f *fakeNotifier) NotifyOperators(ctx context.Context, d transport.Directive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.directives = append(f.directives, d)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.directives)
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Services: []catalog.Service{
			{
				Name: "TikTok",
				Groups: []catalog.Group{
					{
						Label: "TikTok Followers",
						Packages: []catalog.Package{
							{Qty: "1000", Price: "$10"},
							{Qty: "5000", Price: "$40"},
						},
					},
					{
						Label:    "TikTok Likes",
						Target:   "link",
						Packages: []catalog.Package{{Qty: "500", Price: "$5"}},
					},
				},
			},
			{
				Name:     "Promotion",
				Freeform: true,
				Groups: []catalog.Group{
					{
						Label:    "Channel Post",
						Target:   "link",
						Packages: []catalog.Package{{Qty: "1 post", Price: "$25"}},
					},
				},
			},
		},
	}
}

type testEnv struct {
	svc      *Service
	store    *store.SQLiteStore
	notifier *fakeNotifier
	nextID   int
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		store:    st,
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = New(Options{
		Store:     st,
		Catalog:   testCatalog(),
		Operators: env.notifier,
		Payments: []config.PaymentMethod{
			{ID: "bank", Label: "Bank Transfer", Instructions: "Account 123."},
			{ID: "crypto", Label: "USDT"},
		},
		RateWindow: 24 * time.Hour,
		RateMax:    3,
	})
	env.svc.now = func() time.Time { return env.now }
	env.svc.newID = func() string {
		env.nextID++
		return fmt.Sprintf("rec%d", env.nextID)
	}
	return env
}

func buttonEvent(sender, payload string) transport.Event {
	return transport.Event{
		Kind:       transport.EventButton,
		Sender:     sender,
		SenderName: "alice",
		RoomID:     "!dm:example.org",
		Payload:    payload,
	}
}

func textEvent(sender, text string) transport.Event {
	return transport.Event{
		Kind:       transport.EventText,
		Sender:     sender,
		SenderName: "alice",
		RoomID:     "!dm:example.org",
		Text:       text,
	}
}

func mediaEvent(sender, ref, kind, caption string) transport.Event {
	return transport.Event{
		Kind:       transport.EventMedia,
		Sender:     sender,
		SenderName: "alice",
		RoomID:     "!dm:example.org",
		MediaRef:   ref,
		MediaKind:  kind,
		Caption:    caption,
	}
}

const owner = "@alice:example.org"

// driveToReview walks an owner through service, group and package
// selection and target capture, returning the record ID.
func driveToReview(t *testing.T, env *testEnv) string {
	t.Helper()
	ctx := context.Background()

	out := env.svc.HandleEvent(ctx, buttonEvent(owner, "svc|TikTok"))
	require.NotEmpty(t, out)
	out = env.svc.HandleEvent(ctx, buttonEvent(owner, "grp|TikTok|0"))
	require.NotEmpty(t, out)
	out = env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|TikTok|0|0"))
	require.NotEmpty(t, out)

	st, ok := env.svc.tracker.Get(owner)
	require.True(t, ok)
	require.Equal(t, StageAwaitingTarget, st.Stage)

	out = env.svc.HandleEvent(ctx, textEvent(owner, "@myhandle"))
	require.NotEmpty(t, out)
	require.NotEmpty(t, out[0].Keyboard, "review step should offer confirm buttons")
	return st.RecordID
}

func TestHandleEvent_FullOrderFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recordID := driveToReview(t, env)

	rec, err := env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusLinkReceived, rec.Status)
	assert.Equal(t, "@myhandle", rec.Target)
	assert.Equal(t, "TikTok", rec.Service)
	assert.Equal(t, "1000", rec.PackageQty)
	assert.Equal(t, store.ContentOrder, rec.ContentKind)

	// Submit moves on to payment method selection.
	out := env.svc.HandleEvent(ctx, buttonEvent(owner, "submit|"+recordID))
	require.NotEmpty(t, out)
	st, _ := env.svc.tracker.Get(owner)
	assert.Equal(t, StageAwaitingPaymentMethod, st.Stage)

	// Typed text at the payment stage re-prompts and never advances.
	out = env.svc.HandleEvent(ctx, textEvent(owner, "bank"))
	require.NotEmpty(t, out)
	rec, err = env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusLinkReceived, rec.Status)

	// Picking a method moves to awaiting_receipt.
	out = env.svc.HandleEvent(ctx, buttonEvent(owner, "pay|"+recordID+"|bank"))
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Text, "Bank Transfer")
	rec, err = env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingReceipt, rec.Status)
	assert.Equal(t, "bank", rec.PaymentMethod)

	// A text receipt is not acceptable for a catalog order.
	out = env.svc.HandleEvent(ctx, textEvent(owner, "txn-12345"))
	require.NotEmpty(t, out)
	rec, err = env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingReceipt, rec.Status)

	// Uploading the receipt image finalizes the submission.
	out = env.svc.HandleEvent(ctx, mediaEvent(owner, "mxc://example.org/receipt1", "photo", ""))
	require.NotEmpty(t, out)
	rec, err = env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, rec.Status)
	assert.Equal(t, "mxc://example.org/receipt1", rec.PaymentProof)

	assert.Equal(t, 1, env.notifier.count(), "operators should be notified once")
	_, tracked := env.svc.tracker.Get(owner)
	assert.False(t, tracked, "flow should end after submission")
}

func TestHandleEvent_EditTargetLoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recordID := driveToReview(t, env)

	// Change details re-enters target capture.
	out := env.svc.HandleEvent(ctx, buttonEvent(owner, "change|"+recordID))
	require.NotEmpty(t, out)
	st, _ := env.svc.tracker.Get(owner)
	assert.Equal(t, StageEditingTarget, st.Stage)

	out = env.svc.HandleEvent(ctx, textEvent(owner, "@corrected"))
	require.NotEmpty(t, out)

	rec, err := env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, "@corrected", rec.Target)
	assert.Equal(t, store.StatusLinkReceived, rec.Status)
}

func TestHandleEvent_FreeformTextWithSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.HandleEvent(ctx, buttonEvent(owner, "svc|Promotion"))
	env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|Promotion|0|0"))
	st, ok := env.svc.tracker.Get(owner)
	require.True(t, ok)
	recordID := st.RecordID

	out := env.svc.HandleEvent(ctx, textEvent(owner, "Big sale this weekend! | 2026-09-01 15:00"))
	require.NotEmpty(t, out)

	rec, err := env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusLinkReceived, rec.Status)
	assert.Equal(t, store.ContentText, rec.ContentKind)
	assert.Equal(t, "Big sale this weekend!", rec.Caption)
	require.NotNil(t, rec.ScheduledAt)
	assert.Equal(t, time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC), rec.ScheduledAt.UTC())
}

func TestHandleEvent_FreeformBadScheduleReprompts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.HandleEvent(ctx, buttonEvent(owner, "svc|Promotion"))
	env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|Promotion|0|0"))
	st, _ := env.svc.tracker.Get(owner)

	out := env.svc.HandleEvent(ctx, textEvent(owner, "Sale! | tomorrow at noon"))
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Text, "YYYY-MM-DD")

	rec, err := env.store.GetRecord(ctx, st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCreated, rec.Status, "bad schedule must not advance the record")
}

func TestHandleEvent_FreeformMediaContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.HandleEvent(ctx, buttonEvent(owner, "svc|Promotion"))
	env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|Promotion|0|0"))
	st, _ := env.svc.tracker.Get(owner)

	out := env.svc.HandleEvent(ctx,
		mediaEvent(owner, "mxc://example.org/promo1", "video", "Watch this!"))
	require.NotEmpty(t, out)

	rec, err := env.store.GetRecord(ctx, st.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.ContentVideo, rec.ContentKind)
	assert.Equal(t, "mxc://example.org/promo1", rec.MediaRef)
	assert.Equal(t, "Watch this!", rec.Caption)
	assert.Equal(t, store.StatusLinkReceived, rec.Status)
}

func TestHandleEvent_FreeformTextReceiptAccepted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.HandleEvent(ctx, buttonEvent(owner, "svc|Promotion"))
	env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|Promotion|0|0"))
	st, _ := env.svc.tracker.Get(owner)
	recordID := st.RecordID

	env.svc.HandleEvent(ctx, textEvent(owner, "Plain text promo"))
	env.svc.HandleEvent(ctx, buttonEvent(owner, "submit|"+recordID))
	env.svc.HandleEvent(ctx, buttonEvent(owner, "pay|"+recordID+"|crypto"))

	out := env.svc.HandleEvent(ctx, textEvent(owner, "0xdeadbeef-txn"))
	require.NotEmpty(t, out)

	rec, err := env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, rec.Status)
	assert.Equal(t, "0xdeadbeef-txn", rec.PaymentProof)
}

func TestHandleEvent_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out := env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|TikTok|0|0"))
		require.NotEmpty(t, out)
		st, ok := env.svc.tracker.Get(owner)
		require.True(t, ok)
		require.NotEmpty(t, st.RecordID, "submission %d should create a record", i+1)
		env.svc.tracker.Clear(owner)
	}

	out := env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|TikTok|0|0"))
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Text, "limit")

	count, err := env.store.CountSince(ctx, owner, env.now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count, "the fourth submission must not create a record")

	// Another owner is unaffected.
	other := "@bob:example.org"
	out = env.svc.HandleEvent(ctx, buttonEvent(other, "pkg|TikTok|0|0"))
	require.NotEmpty(t, out)
	st, ok := env.svc.tracker.Get(other)
	require.True(t, ok)
	assert.NotEmpty(t, st.RecordID)
}

func TestCancel_PreModerationCancelsRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recordID := driveToReview(t, env)

	out := env.svc.Cancel(ctx, textEvent(owner, "/cancel"))
	require.NotEmpty(t, out)

	rec, err := env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, rec.Status)

	_, tracked := env.svc.tracker.Get(owner)
	assert.False(t, tracked)
}

func TestHandleEvent_CancelOrderButton(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recordID := driveToReview(t, env)

	out := env.svc.HandleEvent(ctx, buttonEvent(owner, "cancel_order|"+recordID))
	require.NotEmpty(t, out)

	rec, err := env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, rec.Status)
}

func TestHandleEvent_NotifierFailureDoesNotBlockSubmission(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = fmt.Errorf("moderation room unreachable")
	ctx := context.Background()

	recordID := driveToReview(t, env)
	env.svc.HandleEvent(ctx, buttonEvent(owner, "submit|"+recordID))
	env.svc.HandleEvent(ctx, buttonEvent(owner, "pay|"+recordID+"|bank"))
	out := env.svc.HandleEvent(ctx, mediaEvent(owner, "mxc://example.org/r", "photo", ""))
	require.NotEmpty(t, out)

	rec, err := env.store.GetRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, rec.Status)
}

func TestHandleEvent_CatalogShortcut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Naming a group directly jumps to package selection.
	out := env.svc.HandleEvent(ctx, textEvent(owner, "tiktok likes"))
	require.NotEmpty(t, out)
	assert.NotEmpty(t, out[0].Keyboard)

	// Unrecognized text falls back to the welcome menu.
	env.svc.tracker.Clear(owner)
	out = env.svc.HandleEvent(ctx, textEvent(owner, "what is this"))
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Text, "/start")
}

func TestHandleEvent_StaleKeyboardIndexes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out := env.svc.HandleEvent(ctx, buttonEvent(owner, "pkg|TikTok|9|9"))
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Text, "didn't understand")
}

func TestMyRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out := env.svc.MyRecords(ctx, textEvent(owner, "/my"))
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Text, "no submissions")

	recordID := driveToReview(t, env)
	out = env.svc.MyRecords(ctx, textEvent(owner, "/my"))
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Text, recordID)
}

func TestSplitSchedule(t *testing.T) {
	body, when, err := splitSchedule("Sale on now")
	require.NoError(t, err)
	assert.Equal(t, "Sale on now", body)
	assert.Nil(t, when)

	body, when, err = splitSchedule("Sale on now | 2026-09-01 15:00")
	require.NoError(t, err)
	assert.Equal(t, "Sale on now", body)
	require.NotNil(t, when)
	assert.Equal(t, time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC), when.UTC())

	_, _, err = splitSchedule("Sale | not a time")
	assert.Error(t, err)
}
