// ABOUTME: Matrix transport adapter for the promo gateway
// ABOUTME: Maps Matrix sync events to intake events and renders directives back

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/enzopromo/promo-gateway/internal/config"
	"github.com/enzopromo/promo-gateway/internal/dedupe"
	"github.com/enzopromo/promo-gateway/internal/intake"
	"github.com/enzopromo/promo-gateway/internal/moderation"
	"github.com/enzopromo/promo-gateway/internal/transport"
)

// Bot connects the Matrix homeserver to the intake and moderation
// layers. It implements transport.Messenger, transport.OperatorNotifier
// and builds transport.Destination values for the scheduler.
type Bot struct {
	client *mautrix.Client
	cfg    config.MatrixConfig
	logger *slog.Logger

	intake     *intake.Service
	moderation *moderation.Gateway
	dispatcher *intake.Dispatcher

	moderationRoom id.RoomID

	// keyboards tracks the last keyboard presented per room so a
	// numbered or labeled reply can be mapped back to its payload.
	keyboards sync.Map // room id -> map[string]string

	// seen drops events the sync stream redelivers after a reconnect.
	seen *dedupe.Tracker

	crypto *CryptoManager

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the bot. Attach must be called with the intake and
// moderation layers before Run; the bot is the operator notifier and
// owner messenger those layers depend on, so it has to exist first.
func New(cfg config.MatrixConfig, moderationRoom string, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bot{
		client:         client,
		cfg:            cfg,
		logger:         logger.With("component", "matrix"),
		moderationRoom: id.RoomID(moderationRoom),
		seen:           dedupe.NewTracker(30*time.Minute, 4096),
	}, nil
}

// Attach wires the intake state machine and moderation gateway and
// creates the per-owner event dispatcher.
func (b *Bot) Attach(intakeSvc *intake.Service, mod *moderation.Gateway) {
	b.intake = intakeSvc
	b.moderation = mod
	b.dispatcher = intake.NewDispatcher(4, 32, b.processEvent, b.logger)
}

// Run starts the sync loop and blocks until the context is cancelled
// or syncing fails.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	if b.cfg.DataDir != "" {
		crypto, err := SetupCrypto(b.ctx, b.client, b.cfg.UserID, b.cfg.RecoveryKey, b.cfg.DataDir, b.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		b.crypto = crypto
		defer b.crypto.Close()
	}

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	b.dispatcher.Start(b.ctx)

	b.logger.Info("connecting to matrix homeserver",
		"homeserver", b.cfg.Homeserver, "user_id", b.cfg.UserID)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(b.ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bot")
		b.cancel()
		b.dispatcher.Wait()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMemberEvent auto-joins rooms the bot is invited to, so users
// can open a direct chat with it.
func (b *Bot) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.cfg.UserID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if _, err := b.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String())
}

// handleMessageEvent converts an inbound Matrix message into a
// transport event and enqueues it for per-owner processing.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping redelivered event", "event_id", evt.ID.String())
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	ev := transport.Event{
		Sender:     evt.Sender.String(),
		SenderName: senderName(evt.Sender),
		RoomID:     evt.RoomID.String(),
	}

	switch content.MsgType {
	case event.MsgText:
		ev.Kind = transport.EventText
		ev.Text = strings.TrimSpace(content.Body)
		if ev.Text == "" {
			return
		}
		// A reply matching the last keyboard shown in this room is a
		// button press, not free text.
		if payload, ok := b.matchKeyboard(ev.RoomID, ev.Text); ok {
			ev.Kind = transport.EventButton
			ev.Payload = payload
		}
	case event.MsgImage, event.MsgVideo, event.MsgFile:
		ev.Kind = transport.EventMedia
		ev.MediaRef = string(content.URL)
		ev.Caption = content.Body
		switch content.MsgType {
		case event.MsgVideo:
			ev.MediaKind = "video"
		case event.MsgFile:
			ev.MediaKind = "file"
		default:
			ev.MediaKind = "photo"
		}
		if ev.MediaRef == "" {
			b.logger.Debug("media message without URL, ignoring",
				"room", ev.RoomID, "sender", ev.Sender)
			return
		}
	default:
		return
	}

	b.logger.Debug("received event",
		"room", ev.RoomID, "sender", ev.Sender, "kind", ev.Kind)

	b.dispatcher.Enqueue(ev)
}

// processEvent routes one event (on a dispatcher worker) and sends the
// resulting directives back to the originating room.
func (b *Bot) processEvent(ctx context.Context, ev transport.Event) {
	directives := b.route(ctx, ev)
	for _, d := range directives {
		if err := b.Send(ctx, ev.RoomID, d); err != nil {
			b.logger.Error("failed to send reply",
				"room", ev.RoomID, "error", err)
		}
	}
}

// route decides whether an event is a moderation command, a user
// command, or intake flow input.
func (b *Bot) route(ctx context.Context, ev transport.Event) []transport.Directive {
	if ev.Kind == transport.EventText && strings.HasPrefix(ev.Text, "/") {
		if ev.RoomID == b.moderationRoom.String() {
			return b.handleModerationCommand(ctx, ev)
		}
		return b.handleUserCommand(ctx, ev)
	}
	return b.intake.HandleEvent(ctx, ev)
}

// handleUserCommand handles the public slash commands.
func (b *Bot) handleUserCommand(ctx context.Context, ev transport.Event) []transport.Directive {
	cmd, _, _ := strings.Cut(ev.Text, " ")
	switch cmd {
	case "/start":
		return b.intake.Start(ctx, ev)
	case "/help":
		return b.intake.Help()
	case "/my":
		return b.intake.MyRecords(ctx, ev)
	case "/cancel":
		return b.intake.Cancel(ctx, ev)
	}
	return []transport.Directive{{Text: "Unknown command. Use /help."}}
}

// Send delivers a directive to a room, rendering markdown and
// keyboards. Implements transport.Messenger.
func (b *Bot) Send(ctx context.Context, roomID string, d transport.Directive) error {
	room := id.RoomID(roomID)

	if d.MediaRef != "" {
		return b.sendMedia(ctx, room, d)
	}

	text := d.Text
	if len(d.Keyboard) > 0 {
		options, mapping := renderKeyboard(d.Keyboard)
		text += "\n\n" + options
		b.keyboards.Store(roomID, mapping)
	}

	content := formatMessage(text)
	if _, err := b.client.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// sendMedia sends a referenced media file with the directive text as
// caption.
func (b *Bot) sendMedia(ctx context.Context, room id.RoomID, d transport.Directive) error {
	msgType := event.MsgImage
	if d.MediaKind == "video" {
		msgType = event.MsgVideo
	}
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    d.Text,
		URL:     id.ContentURIString(d.MediaRef),
	}
	if _, err := b.client.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending media: %w", err)
	}
	return nil
}

// NotifyOperators posts to the moderation room. Implements
// transport.OperatorNotifier.
func (b *Bot) NotifyOperators(ctx context.Context, d transport.Directive) error {
	return b.Send(ctx, b.moderationRoom.String(), d)
}

// Destinations builds publishing targets for the scheduler from the
// configured room IDs.
func (b *Bot) Destinations(roomIDs []string) []transport.Destination {
	dests := make([]transport.Destination, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		dests = append(dests, &roomDestination{bot: b, roomID: roomID})
	}
	return dests
}

// roomDestination publishes records to one Matrix room.
type roomDestination struct {
	bot    *Bot
	roomID string
}

func (d *roomDestination) Name() string {
	return d.roomID
}

func (d *roomDestination) Publish(ctx context.Context, directive transport.Directive) error {
	return d.bot.Send(ctx, d.roomID, directive)
}

// matchKeyboard maps a reply against the room's last keyboard. The
// keyboard stays active until replaced, so users can go back to an
// earlier option list by number.
func (b *Bot) matchKeyboard(roomID, text string) (string, bool) {
	val, ok := b.keyboards.Load(roomID)
	if !ok {
		return "", false
	}
	mapping := val.(map[string]string)
	payload, ok := mapping[normalizeOption(text)]
	return payload, ok
}

// senderName derives a display label from a Matrix user ID. The
// localpart is close enough without an extra profile fetch.
func senderName(userID id.UserID) string {
	local := userID.Localpart()
	if local == "" {
		return userID.String()
	}
	return local
}
