// ABOUTME: The intake state machine turning inbound chat events into records
// ABOUTME: One transition per (stage, event) pair, with rate limiting and operator fan-out

package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/enzopromo/promo-gateway/internal/catalog"
	"github.com/enzopromo/promo-gateway/internal/config"
	"github.com/enzopromo/promo-gateway/internal/store"
	"github.com/enzopromo/promo-gateway/internal/transport"
)

// ErrRateLimited is returned when an owner has hit the submission cap
// for the trailing window.
var ErrRateLimited = errors.New("submission rate limit reached")

// scheduleLayout is the format users append to free-form content to
// schedule publication.
const scheduleLayout = "2006-01-02 15:04"

// Options configures the intake service.
type Options struct {
	Store     store.Store
	Catalog   *catalog.Catalog
	Operators transport.OperatorNotifier
	Payments  []config.PaymentMethod

	// RateWindow/RateMax cap new submissions per owner.
	RateWindow time.Duration
	RateMax    int

	Logger *slog.Logger
}

// Service is the intake state machine. It owns the conversation
// tracker exclusively; no other component reads or writes it.
type Service struct {
	store     store.Store
	catalog   *catalog.Catalog
	tracker   *Tracker
	operators transport.OperatorNotifier
	payments  []config.PaymentMethod

	rateWindow time.Duration
	rateMax    int

	logger *slog.Logger

	// Injectable for tests.
	now   func() time.Time
	newID func() string
}

// New creates the intake service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      opts.Store,
		catalog:    opts.Catalog,
		tracker:    NewTracker(),
		operators:  opts.Operators,
		payments:   opts.Payments,
		rateWindow: opts.RateWindow,
		rateMax:    opts.RateMax,
		logger:     logger.With("component", "intake"),
		now:        time.Now,
		newID:      newRecordID,
	}
}

// newRecordID generates a short opaque record identifier.
func newRecordID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// reply builds a single-directive response.
func reply(text string, keyboard ...[]transport.Button) []transport.Directive {
	return []transport.Directive{{Text: text, Keyboard: keyboard}}
}

// HandleEvent consumes one inbound event and returns the directives to
// send back to the originating room. It never returns an error: every
// failure mode has a user-visible reply, and infrastructure errors are
// logged here.
func (s *Service) HandleEvent(ctx context.Context, ev transport.Event) []transport.Directive {
	switch ev.Kind {
	case transport.EventButton:
		act, err := parsePayload(ev.Payload)
		if err != nil {
			s.logger.Warn("unparseable button payload", "owner", ev.Sender, "error", err)
			return reply(fallbackText, s.welcomeKeyboard()...)
		}
		return s.handleAction(ctx, ev, act)
	case transport.EventText:
		return s.handleText(ctx, ev)
	case transport.EventMedia:
		return s.handleMedia(ctx, ev)
	}
	return nil
}

// Start handles /start: any active flow is abandoned (the record, if
// any, stays as-is for /cancel or timeout by the operator).
func (s *Service) Start(ctx context.Context, ev transport.Event) []transport.Directive {
	s.tracker.Clear(ev.Sender)
	return reply(welcomeText, s.welcomeKeyboard()...)
}

// Help handles /help.
func (s *Service) Help() []transport.Directive {
	return reply(helpText)
}

// Cancel handles /cancel: ends the active flow and cancels the
// in-progress record if it has not reached moderation yet.
func (s *Service) Cancel(ctx context.Context, ev transport.Event) []transport.Directive {
	st, ok := s.tracker.Get(ev.Sender)
	s.tracker.Clear(ev.Sender)
	if ok && st.RecordID != "" {
		s.cancelRecord(ctx, st.RecordID)
	}
	return reply(cancelledText, s.welcomeKeyboard()...)
}

// MyRecords handles /my: the owner's submissions, newest first.
func (s *Service) MyRecords(ctx context.Context, ev transport.Event) []transport.Directive {
	records, err := s.store.ListByOwner(ctx, ev.Sender, 20)
	if err != nil {
		s.logger.Error("listing owner records", "owner", ev.Sender, "error", err)
		return reply("Something went wrong, please try again later.")
	}
	if len(records) == 0 {
		return reply("You have no submissions yet. Use /start to create one.")
	}

	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "`%s` | %s | %s | %s\n",
			rec.ID, rec.Service, rec.Status, rec.CreatedAt.Format("2006-01-02"))
	}
	return reply(b.String())
}

// handleAction dispatches a parsed button payload.
func (s *Service) handleAction(ctx context.Context, ev transport.Event, act action) []transport.Directive {
	switch act.kind {
	case actionCancelFlow, actionBackWelcome:
		s.tracker.Clear(ev.Sender)
		if act.kind == actionCancelFlow {
			return reply(cancelledText, s.welcomeKeyboard()...)
		}
		return reply(welcomeText, s.welcomeKeyboard()...)

	case actionCancelRecord:
		s.cancelRecord(ctx, act.recordID)
		s.tracker.Clear(ev.Sender)
		return reply("Order cancelled.", s.welcomeKeyboard()...)

	case actionBackService, actionSelectService:
		svc, ok := s.catalog.Service(act.service)
		if !ok {
			return reply(fallbackText, s.welcomeKeyboard()...)
		}
		s.tracker.Set(ev.Sender, StageSelecting, "")
		return reply(fmt.Sprintf("Choose the type of package for %s:", svc.Name),
			s.groupsKeyboard(svc)...)

	case actionSelectGroup:
		_, grp, ok := s.catalog.Group(act.service, act.group)
		if !ok {
			return reply(fallbackText, s.welcomeKeyboard()...)
		}
		s.tracker.Set(ev.Sender, StageSelecting, "")
		return reply("Choose quantity:",
			s.packagesKeyboard(act.service, act.group, grp)...)

	case actionSelectPackage:
		return s.selectPackage(ctx, ev, act)

	case actionSubmit:
		return s.submit(ctx, ev, act.recordID)

	case actionChangeTarget:
		return s.changeTarget(ctx, ev, act.recordID)

	case actionPayMethod:
		return s.choosePayment(ctx, ev, act.recordID, act.method)

	case actionAttachReceipt:
		return s.attachReceipt(ctx, ev, act.recordID)
	}

	return reply(fallbackText, s.welcomeKeyboard()...)
}

// selectPackage creates the record and asks for the target. This is the
// rate-limited entry point: editing existing records is never limited.
func (s *Service) selectPackage(ctx context.Context, ev transport.Event, act action) []transport.Directive {
	svc, grp, pkg, ok := s.catalog.Package(act.service, act.group, act.pkg)
	if !ok {
		return reply(fallbackText, s.welcomeKeyboard()...)
	}

	if err := s.checkRateLimit(ctx, ev.Sender); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return reply(fmt.Sprintf(
				"You have reached the limit of %d submissions per %s. Please try again later.",
				s.rateMax, s.rateWindow))
		}
		s.logger.Error("rate limit check failed", "owner", ev.Sender, "error", err)
		return reply("Something went wrong, please try again later.")
	}

	rec := &store.Record{
		ID:           s.newID(),
		OwnerID:      ev.Sender,
		OwnerName:    ev.SenderName,
		RoomID:       ev.RoomID,
		Service:      svc.Name,
		PackageGroup: grp.Label,
		PackageQty:   pkg.Qty,
		Price:        pkg.Price,
		ContentKind:  store.ContentOrder,
		Status:       store.StatusCreated,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		s.logger.Error("creating record", "owner", ev.Sender, "error", err)
		return reply("Something went wrong, please try again later.")
	}

	s.tracker.Set(ev.Sender, StageAwaitingTarget, rec.ID)
	return reply(s.targetPrompt(svc, grp))
}

// checkRateLimit returns ErrRateLimited when the owner has created too
// many records within the trailing window.
func (s *Service) checkRateLimit(ctx context.Context, ownerID string) error {
	if s.rateMax <= 0 {
		return nil
	}
	count, err := s.store.CountSince(ctx, ownerID, s.now().Add(-s.rateWindow))
	if err != nil {
		return fmt.Errorf("counting submissions: %w", err)
	}
	if count >= s.rateMax {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) targetPrompt(svc *catalog.Service, grp *catalog.Group) string {
	if svc.Freeform {
		return promptContent
	}
	if grp.ExpectsUsername() {
		return promptUsername
	}
	return promptLink
}

// submit moves a reviewed record on to payment method selection.
func (s *Service) submit(ctx context.Context, ev transport.Event, recordID string) []transport.Directive {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return s.recordLookupFailure(ev, recordID, err)
	}
	if rec.Status != store.StatusLinkReceived {
		return reply("This order can't be submitted right now.")
	}

	s.tracker.Set(ev.Sender, StageAwaitingPaymentMethod, rec.ID)
	return reply("Choose payment method:", s.paymentKeyboard(rec.ID)...)
}

// changeTarget re-enters target capture from review.
func (s *Service) changeTarget(ctx context.Context, ev transport.Event, recordID string) []transport.Directive {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return s.recordLookupFailure(ev, recordID, err)
	}
	if rec.Status.Terminal() || !rec.Status.ProofAttachable() {
		return reply("This order can no longer be edited.")
	}

	s.tracker.Set(ev.Sender, StageEditingTarget, rec.ID)
	svc, _ := s.catalog.Service(rec.Service)
	var grp *catalog.Group
	if svc != nil {
		for gi := range svc.Groups {
			if svc.Groups[gi].Label == rec.PackageGroup {
				grp = &svc.Groups[gi]
				break
			}
		}
	}
	if svc == nil || grp == nil {
		return reply(promptLink)
	}
	return reply(s.targetPrompt(svc, grp))
}

// choosePayment records the payment method and asks for the receipt.
func (s *Service) choosePayment(ctx context.Context, ev transport.Event, recordID, methodID string) []transport.Directive {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return s.recordLookupFailure(ev, recordID, err)
	}

	method, ok := s.paymentMethod(methodID)
	if !ok {
		return reply("Please pick a payment method using the buttons.",
			s.paymentKeyboard(rec.ID)...)
	}
	if !rec.Status.CanTransition(store.StatusAwaitingReceipt) {
		return reply("This order can't accept a payment method right now.")
	}

	err = s.store.UpdateRecordFields(ctx, rec.ID, map[string]any{
		"payment_method": method.ID,
		"status":         store.StatusAwaitingReceipt,
	})
	if err != nil {
		s.logger.Error("setting payment method", "record", rec.ID, "error", err)
		return reply("Something went wrong, please try again later.")
	}

	s.tracker.Set(ev.Sender, StageAwaitingReceipt, rec.ID)

	text := fmt.Sprintf("%s selected.", method.Label)
	if method.Instructions != "" {
		text += "\n\n" + method.Instructions
	}
	text += fmt.Sprintf("\n\nAmount: %s\n\nUpload the receipt when ready.", rec.Price)
	return reply(text, attachKeyboard(rec.ID)...)
}

func (s *Service) paymentMethod(id string) (config.PaymentMethod, bool) {
	for _, m := range s.payments {
		if m.ID == id {
			return m, true
		}
	}
	return config.PaymentMethod{}, false
}

// attachReceipt re-prompts for the receipt upload.
func (s *Service) attachReceipt(ctx context.Context, ev transport.Event, recordID string) []transport.Directive {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return s.recordLookupFailure(ev, recordID, err)
	}
	if rec.Status != store.StatusAwaitingReceipt {
		return reply("This order isn't waiting for a receipt.")
	}
	s.tracker.Set(ev.Sender, StageAwaitingReceipt, rec.ID)
	return reply(promptReceipt)
}

// handleText dispatches a plain text message on the current stage.
func (s *Service) handleText(ctx context.Context, ev transport.Event) []transport.Directive {
	st, tracked := s.tracker.Get(ev.Sender)
	if !tracked {
		return s.catalogShortcut(ev)
	}

	switch st.Stage {
	case StageSelecting:
		return s.catalogShortcut(ev)

	case StageAwaitingTarget:
		return s.captureTarget(ctx, ev, st)

	case StageEditingTarget:
		return s.captureTarget(ctx, ev, st)

	case StageReview:
		return reply("Please use the buttons to submit, change or cancel the order.",
			confirmKeyboard(st.RecordID)...)

	case StageAwaitingPaymentMethod:
		// Typed text instead of a button press: re-prompt, never advance.
		return reply("Please pick a payment method using the buttons.",
			s.paymentKeyboard(st.RecordID)...)

	case StageAwaitingReceipt:
		return s.receiptText(ctx, ev, st)
	}

	return s.catalogShortcut(ev)
}

// catalogShortcut treats free text that names a catalog entry as a
// drill-down, anything else as an unmatched fallback.
func (s *Service) catalogShortcut(ev transport.Event) []transport.Directive {
	kind, service, gi, ok := s.catalog.Match(ev.Text)
	if !ok {
		return reply(fallbackText, s.welcomeKeyboard()...)
	}

	s.tracker.Set(ev.Sender, StageSelecting, "")
	switch kind {
	case catalog.MatchService:
		svc, _ := s.catalog.Service(service)
		return reply(fmt.Sprintf("Choose the type of package for %s:", svc.Name),
			s.groupsKeyboard(svc)...)
	case catalog.MatchGroup:
		_, grp, _ := s.catalog.Group(service, gi)
		return reply("Choose package quantity:",
			s.packagesKeyboard(service, gi, grp)...)
	}
	return reply(fallbackText, s.welcomeKeyboard()...)
}

// captureTarget stores the link/handle (or free-form text content) and
// moves the flow to review.
func (s *Service) captureTarget(ctx context.Context, ev transport.Event, st State) []transport.Directive {
	rec, err := s.store.GetRecord(ctx, st.RecordID)
	if err != nil {
		return s.recordLookupFailure(ev, st.RecordID, err)
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return reply("Please send the requested details as text.")
	}

	fields := map[string]any{"status": store.StatusLinkReceived}

	if s.isFreeform(rec) {
		body, scheduledAt, err := splitSchedule(text)
		if err != nil {
			return reply("Couldn't parse the schedule time. Use ` | YYYY-MM-DD HH:MM`, " +
				"e.g. `Big sale this weekend! | 2025-11-12 15:00`.")
		}
		fields["caption"] = body
		fields["content_kind"] = store.ContentText
		fields["media_ref"] = ""
		fields["scheduled_at"] = scheduledAt
		rec.Caption = body
		rec.ContentKind = store.ContentText
		rec.MediaRef = ""
		rec.ScheduledAt = scheduledAt
	} else {
		fields["target"] = text
		rec.Target = text
	}

	if err := s.store.UpdateRecordFields(ctx, rec.ID, fields); err != nil {
		s.logger.Error("capturing target", "record", rec.ID, "error", err)
		return reply("Something went wrong, please try again later.")
	}
	rec.Status = store.StatusLinkReceived

	s.tracker.Set(ev.Sender, StageReview, rec.ID)
	return reply(reviewSummary(rec), confirmKeyboard(rec.ID)...)
}

// receiptText accepts a transaction reference for free-form promotions;
// catalog orders require an uploaded receipt image.
func (s *Service) receiptText(ctx context.Context, ev transport.Event, st State) []transport.Directive {
	rec, err := s.store.GetRecord(ctx, st.RecordID)
	if err != nil {
		return s.recordLookupFailure(ev, st.RecordID, err)
	}

	if !s.isFreeform(rec) {
		return reply("Please upload a photo of your receipt. Use the Attach Receipt "+
			"button or send the image now.", attachKeyboard(rec.ID)...)
	}

	ref := strings.TrimSpace(ev.Text)
	if ref == "" {
		return reply("Couldn't read that. Please send an image or the transaction id as text.")
	}
	return s.finalizeProof(ctx, ev, rec, ref, "")
}

// handleMedia dispatches a media message on the current stage.
func (s *Service) handleMedia(ctx context.Context, ev transport.Event) []transport.Directive {
	st, tracked := s.tracker.Get(ev.Sender)
	if !tracked {
		return reply("I wasn't expecting a file now. Use /start to begin.",
			s.welcomeKeyboard()...)
	}

	switch st.Stage {
	case StageAwaitingTarget, StageEditingTarget:
		return s.captureMediaContent(ctx, ev, st)

	case StageAwaitingReceipt:
		rec, err := s.store.GetRecord(ctx, st.RecordID)
		if err != nil {
			return s.recordLookupFailure(ev, st.RecordID, err)
		}
		return s.finalizeProof(ctx, ev, rec, ev.MediaRef, ev.MediaRef)
	}

	return reply("I wasn't expecting a file now. If you want to attach a receipt, " +
		"first create an order and choose a payment method.")
}

// captureMediaContent stores photo/video content for a free-form
// promotion and moves the flow to review.
func (s *Service) captureMediaContent(ctx context.Context, ev transport.Event, st State) []transport.Directive {
	rec, err := s.store.GetRecord(ctx, st.RecordID)
	if err != nil {
		return s.recordLookupFailure(ev, st.RecordID, err)
	}
	if !s.isFreeform(rec) {
		return reply("Please send the link or username as text.")
	}

	caption, scheduledAt, err := splitSchedule(strings.TrimSpace(ev.Caption))
	if err != nil {
		return reply("Couldn't parse the schedule time in the caption. " +
			"Use ` | YYYY-MM-DD HH:MM`.")
	}

	kind := store.ContentPhoto
	if ev.MediaKind == "video" {
		kind = store.ContentVideo
	}

	fields := map[string]any{
		"status":       store.StatusLinkReceived,
		"content_kind": kind,
		"media_ref":    ev.MediaRef,
		"caption":      caption,
		"scheduled_at": scheduledAt,
	}
	if err := s.store.UpdateRecordFields(ctx, rec.ID, fields); err != nil {
		s.logger.Error("capturing media content", "record", rec.ID, "error", err)
		return reply("Something went wrong, please try again later.")
	}

	rec.Status = store.StatusLinkReceived
	rec.ContentKind = kind
	rec.MediaRef = ev.MediaRef
	rec.Caption = caption
	rec.ScheduledAt = scheduledAt

	s.tracker.Set(ev.Sender, StageReview, rec.ID)
	return reply(reviewSummary(rec), confirmKeyboard(rec.ID)...)
}

// finalizeProof attaches the payment proof, moves the record to
// pending, notifies the operators and ends the flow. Operator
// notification failures are logged and never abort the transition.
func (s *Service) finalizeProof(ctx context.Context, ev transport.Event, rec *store.Record, proof, proofMedia string) []transport.Directive {
	if !rec.Status.ProofAttachable() {
		return reply("This order already has payment proof on file.")
	}
	if !rec.Status.CanTransition(store.StatusPending) {
		return reply("This order isn't waiting for a receipt.")
	}

	err := s.store.UpdateRecordFields(ctx, rec.ID, map[string]any{
		"payment_proof": proof,
		"status":        store.StatusPending,
	})
	if err != nil {
		s.logger.Error("attaching payment proof", "record", rec.ID, "error", err)
		return reply("Something went wrong, please try again later.")
	}
	rec.PaymentProof = proof
	rec.Status = store.StatusPending

	if err := s.operators.NotifyOperators(ctx, transport.Directive{
		Text:     operatorSummary(rec),
		MediaRef: proofMedia,
	}); err != nil {
		s.logger.Warn("operator notification failed", "record", rec.ID, "error", err)
	}

	s.tracker.Clear(ev.Sender)
	s.logger.Info("record submitted for moderation", "record", rec.ID, "owner", rec.OwnerID)
	return reply(fmt.Sprintf(
		"✅ We received your payment proof. Order `%s` is pending review; "+
			"we'll notify you once it's processed.", rec.ID),
		s.welcomeKeyboard()...)
}

// cancelRecord marks a record cancelled if it is still pre-moderation.
func (s *Service) cancelRecord(ctx context.Context, recordID string) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("loading record for cancel", "record", recordID, "error", err)
		}
		return
	}
	if !rec.Status.ProofAttachable() {
		// Already in or past moderation; cancellation is an operator call now.
		return
	}
	err = s.store.UpdateRecordFields(ctx, recordID, map[string]any{
		"status": store.StatusCancelled,
	})
	if err != nil {
		s.logger.Error("cancelling record", "record", recordID, "error", err)
		return
	}
	s.logger.Info("record cancelled by owner", "record", recordID)
}

func (s *Service) isFreeform(rec *store.Record) bool {
	if rec.ContentKind != "" && rec.ContentKind != store.ContentOrder {
		return true
	}
	svc, ok := s.catalog.Service(rec.Service)
	return ok && svc.Freeform
}

// recordLookupFailure maps store errors on record lookups to replies.
func (s *Service) recordLookupFailure(ev transport.Event, recordID string, err error) []transport.Directive {
	if errors.Is(err, store.ErrNotFound) {
		s.tracker.Clear(ev.Sender)
		return reply("Order not found. Use /start to begin.", s.welcomeKeyboard()...)
	}
	s.logger.Error("loading record", "record", recordID, "error", err)
	return reply("Something went wrong, please try again later.")
}

// splitSchedule splits an optional ` | YYYY-MM-DD HH:MM` suffix off a
// content message. No suffix means publish as soon as approved.
func splitSchedule(text string) (string, *time.Time, error) {
	idx := strings.LastIndex(text, "|")
	if idx < 0 {
		return text, nil, nil
	}
	body := strings.TrimSpace(text[:idx])
	when := strings.TrimSpace(text[idx+1:])
	t, err := time.Parse(scheduleLayout, when)
	if err != nil {
		return "", nil, fmt.Errorf("parsing schedule time %q: %w", when, err)
	}
	t = t.UTC()
	return body, &t, nil
}
