// ABOUTME: Keyboard builders and reply texts for the intake flow
// ABOUTME: Produces outbound directives mirroring the catalog structure

package intake

import (
	"fmt"
	"strings"

	"github.com/enzopromo/promo-gateway/internal/catalog"
	"github.com/enzopromo/promo-gateway/internal/store"
	"github.com/enzopromo/promo-gateway/internal/transport"
)

const (
	welcomeText = "Welcome to the promotion desk! Pick a platform to order " +
		"followers, likes or views, or submit your own promotional content " +
		"for publication. An operator reviews every order after payment.\n\n" +
		"What would you like to promote?"

	helpText = "Pick a platform from the menu to start an order, or use:\n" +
		"/start - show the menu\n" +
		"/my - your submissions\n" +
		"/cancel - abort the current flow"

	promptLink     = "Please send the link to the post/video you want promoted."
	promptUsername = "Please send the username/account handle you want promoted."
	promptContent  = "Send the promotional content now: plain text, or a photo/video " +
		"with a caption. To schedule publication, append ` | YYYY-MM-DD HH:MM` " +
		"to the text."

	promptReceipt = "Please upload a screenshot or photo of your payment receipt."

	cancelledText = "Operation cancelled."
	fallbackText  = "I didn't understand that. Use /start to begin."
)

func (s *Service) welcomeKeyboard() [][]transport.Button {
	var rows [][]transport.Button
	for _, svc := range s.catalog.Services {
		rows = append(rows, []transport.Button{
			{Label: svc.Name, Payload: "svc|" + svc.Name},
		})
	}
	return rows
}

func (s *Service) groupsKeyboard(svc *catalog.Service) [][]transport.Button {
	var rows [][]transport.Button
	for gi, grp := range svc.Groups {
		rows = append(rows, []transport.Button{
			{Label: grp.Label, Payload: fmt.Sprintf("grp|%s|%d", svc.Name, gi)},
		})
	}
	rows = append(rows, []transport.Button{
		{Label: "⬅️ Back", Payload: "back|welcome"},
		{Label: "❌ Cancel", Payload: "cancel|flow"},
	})
	return rows
}

func (s *Service) packagesKeyboard(service string, gi int, grp *catalog.Group) [][]transport.Button {
	var rows [][]transport.Button
	// Last word of the group label names the unit, e.g. "Followers".
	words := strings.Fields(grp.Label)
	unit := words[len(words)-1]
	for pi, pkg := range grp.Packages {
		rows = append(rows, []transport.Button{{
			Label:   fmt.Sprintf("%s %s - %s", pkg.Qty, unit, pkg.Price),
			Payload: fmt.Sprintf("pkg|%s|%d|%d", service, gi, pi),
		}})
	}
	rows = append(rows, []transport.Button{
		{Label: "⬅️ Back", Payload: "back|service|" + service},
		{Label: "❌ Cancel", Payload: "cancel|flow"},
	})
	return rows
}

func confirmKeyboard(recordID string) [][]transport.Button {
	return [][]transport.Button{
		{{Label: "Submit Order", Payload: "submit|" + recordID}},
		{{Label: "Change Details", Payload: "change|" + recordID}},
		{{Label: "❌ Cancel Order", Payload: "cancel_order|" + recordID}},
	}
}

func (s *Service) paymentKeyboard(recordID string) [][]transport.Button {
	var rows [][]transport.Button
	for _, m := range s.payments {
		rows = append(rows, []transport.Button{{
			Label:   m.Label,
			Payload: fmt.Sprintf("pay|%s|%s", recordID, m.ID),
		}})
	}
	rows = append(rows, []transport.Button{
		{Label: "❌ Cancel", Payload: "cancel_order|" + recordID},
	})
	return rows
}

func attachKeyboard(recordID string) [][]transport.Button {
	return [][]transport.Button{
		{{Label: "📎 Attach Receipt", Payload: "attach|" + recordID}},
		{{Label: "❌ Cancel", Payload: "cancel_order|" + recordID}},
	}
}

// reviewSummary renders the record for the user's confirmation step.
func reviewSummary(rec *store.Record) string {
	var b strings.Builder
	b.WriteString("**Order Information**\n")
	fmt.Fprintf(&b, "Service: %s\n", rec.Service)
	if rec.ContentKind == store.ContentOrder {
		fmt.Fprintf(&b, "Package: %s — %s\n", rec.PackageGroup, rec.PackageQty)
		fmt.Fprintf(&b, "Price: %s\n", rec.Price)
		fmt.Fprintf(&b, "Link/Username: %s\n", rec.Target)
	} else {
		fmt.Fprintf(&b, "Package: %s — %s\n", rec.PackageGroup, rec.PackageQty)
		fmt.Fprintf(&b, "Price: %s\n", rec.Price)
		fmt.Fprintf(&b, "Content: %s\n", contentLabel(rec))
		if rec.ScheduledAt != nil {
			fmt.Fprintf(&b, "Scheduled: %s\n", rec.ScheduledAt.Format("2006-01-02 15:04"))
		}
	}
	b.WriteString("\nIf everything is correct, press Submit Order. " +
		"Otherwise change the details or cancel.")
	return b.String()
}

// operatorSummary renders the record for the moderation room.
func operatorSummary(rec *store.Record) string {
	var b strings.Builder
	b.WriteString("📥 **New Payment Received**\n\n")
	fmt.Fprintf(&b, "🧾 Order ID: `%s`\n", rec.ID)
	fmt.Fprintf(&b, "👤 User: %s (%s)\n", rec.OwnerName, rec.OwnerID)
	fmt.Fprintf(&b, "📱 Service: %s\n", rec.Service)
	fmt.Fprintf(&b, "📦 Package: %s — %s\n", rec.PackageGroup, rec.PackageQty)
	fmt.Fprintf(&b, "💰 Price: %s\n", rec.Price)
	if rec.ContentKind == store.ContentOrder {
		fmt.Fprintf(&b, "🔗 Link/Username: %s\n", rec.Target)
	} else {
		fmt.Fprintf(&b, "📝 Content: %s\n", contentLabel(rec))
	}
	fmt.Fprintf(&b, "🏦 Payment Method: %s\n", rec.PaymentMethod)
	fmt.Fprintf(&b, "\nReview with /pending, then /approve %s or /reject %s <reason>.", rec.ID, rec.ID)
	return b.String()
}

func contentLabel(rec *store.Record) string {
	switch rec.ContentKind {
	case store.ContentText:
		return truncate(rec.Caption, 120)
	case store.ContentPhoto:
		return "photo: " + truncate(rec.Caption, 100)
	case store.ContentVideo:
		return "video: " + truncate(rec.Caption, 100)
	}
	return rec.Target
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
