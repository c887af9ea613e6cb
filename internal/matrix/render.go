// ABOUTME: Markdown and keyboard rendering for outbound Matrix messages
// ABOUTME: Keyboards become numbered option lists; replies map back to payloads

package matrix

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"

	"github.com/enzopromo/promo-gateway/internal/transport"
)

// formatMessage builds a text message content with the markdown source
// as plain body and the rendered HTML as formatted body.
func formatMessage(markdown string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    markdown,
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = strings.TrimSpace(buf.String())
	}
	return content
}

// renderKeyboard flattens button rows into a numbered option list and
// returns the reply mapping: option number and lowercased label both
// resolve to the button payload.
func renderKeyboard(rows [][]transport.Button) (string, map[string]string) {
	var b strings.Builder
	mapping := make(map[string]string)

	n := 0
	for _, row := range rows {
		for _, btn := range row {
			n++
			fmt.Fprintf(&b, "%d. %s\n", n, btn.Label)
			mapping[fmt.Sprintf("%d", n)] = btn.Payload
			mapping[normalizeOption(btn.Label)] = btn.Payload
		}
	}
	b.WriteString("\nReply with a number to choose.")
	return b.String(), mapping
}

// normalizeOption canonicalizes a reply or label for keyboard matching.
func normalizeOption(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
