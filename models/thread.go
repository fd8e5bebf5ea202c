package models

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ThreadSummary is a lightweight projection of a Thread used for list views.
// Summaries are immutable; updates replace the whole record.
type ThreadSummary struct {
	ID           string       `json:"id"`
	Subject      string       `json:"subject"`
	Recipients   []string     `json:"recipients"`
	Snippet      string       `json:"snippet"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LeadIDs      []string     `json:"lead_ids,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	MessageCount int          `json:"message_count,omitempty"`
	HasReplies   bool         `json:"has_replies,omitempty"`
}

// Thread is the authoritative detail record for an email conversation.
type Thread struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Recipients []string  `json:"recipients"`
	Messages   []Message `json:"messages"`
	LeadIDs    []string  `json:"lead_ids,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Summary builds the list-view projection of the thread. HasReplies is left
// unset because it depends on knowing the mailbox owner's address; the mail
// sync layer fills it in.
func (t *Thread) Summary() ThreadSummary {
	s := ThreadSummary{
		ID:           t.ID,
		Subject:      t.Subject,
		Recipients:   t.Recipients,
		UpdatedAt:    t.UpdatedAt,
		LeadIDs:      t.LeadIDs,
		MessageCount: len(t.Messages),
	}

	// Snippet comes from the newest message with a body, preferring plain
	// text over converted HTML.
	for i := len(t.Messages) - 1; i >= 0; i-- {
		m := t.Messages[i]
		switch {
		case m.Text != "":
			s.Snippet = MakeSnippet(m.Text)
		case m.HTML != "":
			s.Snippet = MakeSnippet(HTMLToText(m.HTML))
		default:
			continue
		}
		break
	}

	for _, m := range t.Messages {
		s.Attachments = append(s.Attachments, m.Attachments...)
	}

	return s
}

// HasAttachments reports whether any message in the thread carries attachments.
func (t *Thread) HasAttachments() bool {
	for _, m := range t.Messages {
		if len(m.Attachments) > 0 {
			return true
		}
	}
	return false
}

// MakeSnippet normalizes whitespace and trims text to a short preview,
// breaking at a word boundary where possible.
func MakeSnippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")

	if len(text) > 150 {
		if idx := strings.LastIndex(text[:150], " "); idx > 0 {
			return text[:idx] + "..."
		}
		return text[:150] + "..."
	}
	return text
}

var (
	lineBreakReplacer = strings.NewReplacer(
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
		"<p>", "\n",
		"</p>", "\n",
		"&nbsp;", " ",
	)
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
)

// HTMLToText reduces an HTML body to plain text for previews: tags are
// dropped, entities decoded, whitespace collapsed.
func HTMLToText(htmlStr string) string {
	text := lineBreakReplacer.Replace(htmlStr)
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
