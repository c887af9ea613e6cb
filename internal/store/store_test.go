// ABOUTME: Tests for the SQLite store and the status lifecycle rules
// ABOUTME: Covers CRUD, partial updates, due/pending queries and the transition graph

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a real SQLite store in a temp directory
func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string) *Record {
	return &Record{
		ID:           id,
		OwnerID:      "@alice:example.org",
		OwnerName:    "alice",
		RoomID:       "!room:example.org",
		Service:      "TikTok",
		PackageGroup: "TikTok Followers",
		PackageQty:   "1000",
		Price:        "$10",
		ContentKind:  ContentOrder,
		Status:       StatusCreated,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateRecord_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testRecord("abc123")
	rec.Target = "https://tiktok.com/@alice/video/1"
	require.NoError(t, s.CreateRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.OwnerID, got.OwnerID)
	assert.Equal(t, rec.Service, got.Service)
	assert.Equal(t, rec.PackageGroup, got.PackageGroup)
	assert.Equal(t, rec.Target, got.Target)
	assert.Equal(t, StatusCreated, got.Status)
	assert.Nil(t, got.ScheduledAt)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestCreateRecord_ScheduledAtSurvives(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	when := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	rec := testRecord("sched1")
	rec.ScheduledAt = &when
	require.NoError(t, s.CreateRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "sched1")
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, when.Equal(*got.ScheduledAt))
}

func TestCreateRecord_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRecord(ctx, testRecord("dup")))
	err := s.CreateRecord(ctx, testRecord("dup"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetRecord_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRecordFields_Partial(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRecord(ctx, testRecord("upd1")))

	err := s.UpdateRecordFields(ctx, "upd1", map[string]any{
		"target": "@bob",
		"status": StatusLinkReceived,
	})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "upd1")
	require.NoError(t, err)
	assert.Equal(t, "@bob", got.Target)
	assert.Equal(t, StatusLinkReceived, got.Status)
	// Untouched fields keep their values.
	assert.Equal(t, "TikTok", got.Service)
	assert.Equal(t, "$10", got.Price)
}

func TestUpdateRecordFields_ImmutableFieldRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRecord(ctx, testRecord("imm1")))

	err := s.UpdateRecordFields(ctx, "imm1", map[string]any{"owner_id": "@eve:example.org"})
	assert.Error(t, err)

	err = s.UpdateRecordFields(ctx, "imm1", map[string]any{"created_at": time.Now()})
	assert.Error(t, err)
}

func TestUpdateRecordFields_NotFound(t *testing.T) {
	s := createTestStore(t)

	err := s.UpdateRecordFields(context.Background(), "missing", map[string]any{
		"status": StatusCancelled,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRecordFields_ScheduledAtPointer(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRecord(ctx, testRecord("ptr1")))

	when := time.Date(2026, 10, 2, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.UpdateRecordFields(ctx, "ptr1", map[string]any{"scheduled_at": &when}))

	got, err := s.GetRecord(ctx, "ptr1")
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, when.Equal(*got.ScheduledAt))

	// Nil pointer clears the schedule.
	require.NoError(t, s.UpdateRecordFields(ctx, "ptr1", map[string]any{"scheduled_at": (*time.Time)(nil)}))
	got, err = s.GetRecord(ctx, "ptr1")
	require.NoError(t, err)
	assert.Nil(t, got.ScheduledAt)
}

func TestListPending_OldestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	offsets := map[string]time.Duration{"p1": 0, "p2": time.Minute, "p3": 2 * time.Minute}
	for id, off := range offsets {
		rec := testRecord(id)
		rec.Status = StatusPending
		rec.CreatedAt = base.Add(off)
		require.NoError(t, s.CreateRecord(ctx, rec))
	}
	other := testRecord("notpending")
	other.Status = StatusApproved
	require.NoError(t, s.CreateRecord(ctx, other))

	records, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "p1", records[0].ID)
	assert.Equal(t, "p2", records[1].ID)
	assert.Equal(t, "p3", records[2].ID)

	limited, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListDue_ScheduleBoundary(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	unscheduled := testRecord("due-unsched")
	unscheduled.Status = StatusApproved
	require.NoError(t, s.CreateRecord(ctx, unscheduled))

	past := now.Add(-time.Minute)
	duePast := testRecord("due-past")
	duePast.Status = StatusApproved
	duePast.ScheduledAt = &past
	require.NoError(t, s.CreateRecord(ctx, duePast))

	exact := testRecord("due-exact")
	exact.Status = StatusApproved
	exact.ScheduledAt = &now
	require.NoError(t, s.CreateRecord(ctx, exact))

	future := now.Add(time.Hour)
	notDue := testRecord("due-future")
	notDue.Status = StatusApproved
	notDue.ScheduledAt = &future
	require.NoError(t, s.CreateRecord(ctx, notDue))

	pending := testRecord("due-pending")
	pending.Status = StatusPending
	require.NoError(t, s.CreateRecord(ctx, pending))

	due, err := s.ListDue(ctx, now)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, rec := range due {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"due-unsched", "due-past", "due-exact"}, ids)
}

func TestCountSince_WindowBoundary(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	inside := testRecord("cs-inside")
	inside.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, s.CreateRecord(ctx, inside))

	boundary := testRecord("cs-boundary")
	boundary.CreatedAt = now.Add(-24 * time.Hour)
	require.NoError(t, s.CreateRecord(ctx, boundary))

	outside := testRecord("cs-outside")
	outside.CreatedAt = now.Add(-25 * time.Hour)
	require.NoError(t, s.CreateRecord(ctx, outside))

	other := testRecord("cs-other")
	other.OwnerID = "@bob:example.org"
	other.CreatedAt = now
	require.NoError(t, s.CreateRecord(ctx, other))

	count, err := s.CountSince(ctx, "@alice:example.org", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestListByOwner_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		rec := testRecord([]string{"o1", "o2", "o3"}[i])
		rec.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	records, err := s.ListByOwner(ctx, "@alice:example.org", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "o3", records[0].ID)
	assert.Equal(t, "o1", records[2].ID)
}

func TestStatusCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, st := range []Status{StatusPending, StatusPending, StatusApproved} {
		rec := testRecord([]string{"sc1", "sc2", "sc3"}[i])
		rec.Status = st
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	counts, err := s.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusApproved])
	assert.Equal(t, 0, counts[StatusRejected])
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusCreated.CanTransition(StatusLinkReceived))
	assert.True(t, StatusLinkReceived.CanTransition(StatusLinkReceived))
	assert.True(t, StatusLinkReceived.CanTransition(StatusAwaitingReceipt))
	assert.True(t, StatusAwaitingReceipt.CanTransition(StatusPending))
	assert.True(t, StatusPending.CanTransition(StatusApproved))
	assert.True(t, StatusPending.CanTransition(StatusRejected))
	assert.True(t, StatusApproved.CanTransition(StatusPosted))
	assert.True(t, StatusApproved.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusDone))

	assert.False(t, StatusCreated.CanTransition(StatusPending))
	assert.False(t, StatusPending.CanTransition(StatusPosted))
	assert.False(t, StatusRejected.CanTransition(StatusApproved))
	assert.False(t, StatusPosted.CanTransition(StatusDone))
}

func TestStatus_CancelFromAnyNonTerminal(t *testing.T) {
	for _, st := range []Status{StatusCreated, StatusLinkReceived, StatusAwaitingReceipt, StatusPending, StatusApproved, StatusProcessing} {
		assert.True(t, st.CanTransition(StatusCancelled), "expected %s to be cancellable", st)
	}
	for _, st := range []Status{StatusRejected, StatusDone, StatusPosted, StatusCancelled} {
		assert.False(t, st.CanTransition(StatusCancelled), "expected %s not to be cancellable", st)
	}
}

func TestStatus_ProofAttachable(t *testing.T) {
	assert.True(t, StatusCreated.ProofAttachable())
	assert.True(t, StatusLinkReceived.ProofAttachable())
	assert.True(t, StatusAwaitingReceipt.ProofAttachable())

	assert.False(t, StatusPending.ProofAttachable())
	assert.False(t, StatusApproved.ProofAttachable())
	assert.False(t, StatusCancelled.ProofAttachable())
}
