// ABOUTME: Moderation slash commands handled in the moderation room
// ABOUTME: Parses operator commands and maps gateway errors to replies

package matrix

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/enzopromo/promo-gateway/internal/moderation"
	"github.com/enzopromo/promo-gateway/internal/store"
	"github.com/enzopromo/promo-gateway/internal/transport"
)

const moderationHelp = "Moderation commands:\n" +
	"/pending - list records awaiting review\n" +
	"/approve <id> - approve a record\n" +
	"/reject <id> [reason] - reject a record\n" +
	"/processing <id> - mark an order as being fulfilled\n" +
	"/done <id> - mark an order fulfilled\n" +
	"/cancelout <id> - cancel a record\n" +
	"/stats - record counts per status"

// pendingPageSize bounds one /pending listing.
const pendingPageSize = 20

// handleModerationCommand executes an operator command sent in the
// moderation room.
func (b *Bot) handleModerationCommand(ctx context.Context, ev transport.Event) []transport.Directive {
	fields := strings.Fields(ev.Text)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/help":
		return []transport.Directive{{Text: moderationHelp}}

	case "/pending":
		return b.cmdPending(ctx, ev.Sender)

	case "/approve":
		if len(args) < 1 {
			return usage("/approve <id>")
		}
		return b.result(b.moderation.Approve(ctx, ev.Sender, args[0]),
			fmt.Sprintf("Order `%s` approved.", args[0]))

	case "/reject":
		if len(args) < 1 {
			return usage("/reject <id> [reason]")
		}
		reason := strings.Join(args[1:], " ")
		return b.result(b.moderation.Reject(ctx, ev.Sender, args[0], reason),
			fmt.Sprintf("Order `%s` rejected.", args[0]))

	case "/processing":
		if len(args) < 1 {
			return usage("/processing <id>")
		}
		return b.result(b.moderation.MarkProcessing(ctx, ev.Sender, args[0]),
			fmt.Sprintf("Order `%s` marked processing.", args[0]))

	case "/done":
		if len(args) < 1 {
			return usage("/done <id>")
		}
		return b.result(b.moderation.MarkDone(ctx, ev.Sender, args[0]),
			fmt.Sprintf("Order `%s` marked done.", args[0]))

	case "/cancelout":
		if len(args) < 1 {
			return usage("/cancelout <id>")
		}
		return b.result(b.moderation.Cancel(ctx, ev.Sender, args[0]),
			fmt.Sprintf("Order `%s` cancelled.", args[0]))

	case "/stats":
		return b.cmdStats(ctx, ev.Sender)
	}

	return []transport.Directive{{Text: "Unknown command. Use /help."}}
}

func usage(text string) []transport.Directive {
	return []transport.Directive{{Text: "Usage: " + text}}
}

// result maps a gateway error to an operator-facing reply.
func (b *Bot) result(err error, success string) []transport.Directive {
	switch {
	case err == nil:
		return []transport.Directive{{Text: success}}
	case errors.Is(err, moderation.ErrUnauthorized):
		return []transport.Directive{{Text: "You are not allowed to use this."}}
	case errors.Is(err, store.ErrNotFound):
		return []transport.Directive{{Text: "Order not found."}}
	case errors.Is(err, moderation.ErrInvalidTransition):
		return []transport.Directive{{Text: fmt.Sprintf("Not possible: %v.", err)}}
	}
	b.logger.Error("moderation command failed", "error", err)
	return []transport.Directive{{Text: "Something went wrong, check the logs."}}
}

// cmdPending lists the review queue, one directive per record so media
// content rides along with its summary.
func (b *Bot) cmdPending(ctx context.Context, caller string) []transport.Directive {
	records, err := b.moderation.ListPending(ctx, caller, pendingPageSize)
	if err != nil {
		return b.result(err, "")
	}
	if len(records) == 0 {
		return []transport.Directive{{Text: "No pending records."}}
	}

	var out []transport.Directive
	for _, rec := range records {
		d := transport.Directive{Text: pendingSummary(rec)}
		if rec.MediaRef != "" {
			d.MediaRef = rec.MediaRef
			if rec.ContentKind == store.ContentVideo {
				d.MediaKind = "video"
			}
		}
		out = append(out, d)
	}
	out = append(out, transport.Directive{
		Text: "Use /approve <id> or /reject <id> <reason> to manage records.",
	})
	return out
}

func pendingSummary(rec *store.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID: `%s`\n", rec.ID)
	fmt.Fprintf(&b, "From: %s (%s)\n", rec.OwnerName, rec.OwnerID)
	fmt.Fprintf(&b, "Service: %s — %s %s\n", rec.Service, rec.PackageGroup, rec.PackageQty)
	fmt.Fprintf(&b, "Price: %s\n", rec.Price)
	fmt.Fprintf(&b, "Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04"))
	if rec.Target != "" {
		fmt.Fprintf(&b, "Target: %s\n", rec.Target)
	}
	if rec.Caption != "" {
		caption := rec.Caption
		if len(caption) > 300 {
			caption = caption[:300] + "..."
		}
		fmt.Fprintf(&b, "Caption: %s\n", caption)
	}
	if rec.PaymentMethod != "" {
		fmt.Fprintf(&b, "Payment: %s (proof: %s)\n", rec.PaymentMethod, rec.PaymentProof)
	}
	return b.String()
}

// cmdStats renders the per-status record histogram.
func (b *Bot) cmdStats(ctx context.Context, caller string) []transport.Directive {
	counts, err := b.moderation.Stats(ctx, caller)
	if err != nil {
		return b.result(err, "")
	}
	if len(counts) == 0 {
		return []transport.Directive{{Text: "No records yet."}}
	}

	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	var out strings.Builder
	out.WriteString("Record stats:\n")
	for _, status := range statuses {
		fmt.Fprintf(&out, "%s: %d\n", status, counts[store.Status(status)])
	}
	return []transport.Directive{{Text: out.String()}}
}
