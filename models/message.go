package models

import "time"

// Message is a single email within a Thread. Bodies are stored as already
// sanitized HTML and/or plain text; attachment content is never cached, only
// its metadata.
type Message struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Date        time.Time    `json:"date"`
	Subject     string       `json:"subject,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}
