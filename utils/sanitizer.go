package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// UGCPolicy sanitizes email HTML before it is cached or served.
var UGCPolicy *bluemonday.Policy

func init() {
	UGCPolicy = bluemonday.UGCPolicy()

	// Allow additional safe elements for email content
	UGCPolicy.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	UGCPolicy.AllowElements("strong", "em", "u", "s", "code", "pre")
	UGCPolicy.AllowElements("ul", "ol", "li")
	UGCPolicy.AllowElements("blockquote")
	UGCPolicy.AllowElements("a", "img")
	UGCPolicy.AllowElements("table", "thead", "tbody", "tr", "th", "td")

	// Allow safe attributes
	UGCPolicy.AllowAttrs("href").OnElements("a")
	UGCPolicy.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	UGCPolicy.AllowAttrs("class", "id").Globally()
	UGCPolicy.AllowAttrs("style").OnElements("span", "div", "p")

	// Require URLs to be safe
	UGCPolicy.RequireParseableURLs(true)
	UGCPolicy.AllowURLSchemes("http", "https", "mailto")
}

// SanitizeHTML strips scripts and unsafe markup from an email body.
func SanitizeHTML(html string) string {
	return UGCPolicy.Sanitize(html)
}

// NormalizeSubject lowercases a subject and strips reply/forward prefixes so
// related messages compare equal.
func NormalizeSubject(subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))

	prefixes := []string{"re:", "fwd:", "fw:", "aw:", "wg:"}
	for {
		trimmed := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(subject, prefix) {
				subject = strings.TrimSpace(strings.TrimPrefix(subject, prefix))
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}

	return subject
}

// GenerateThreadID derives a stable identifier from message content, used
// when a message carries no Message-ID header.
func GenerateThreadID(seed string) string {
	hash := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%x", hash[:16])
}
