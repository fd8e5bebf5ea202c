package mailapi

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"

	"jobtrail/models"
	"jobtrail/utils"
)

// DefaultFetchLimit bounds how many recent messages a summary refresh reads.
const DefaultFetchLimit = 100

// fetchedMessage is a parsed IMAP message plus the threading headers the
// builder needs. It never leaves this package.
type fetchedMessage struct {
	uid         uint32
	messageID   string
	inReplyTo   string
	references  []string
	subject     string
	from        string
	to          []string
	date        time.Time
	text        string
	html        string
	attachments []models.Attachment
}

// FetchThreadSummaries reads the most recent messages of a folder, groups
// them into conversation threads, and returns their summaries newest first.
// An empty folder falls back to the client's configured mailbox.
func (c *Client) FetchThreadSummaries(ctx context.Context, folder string, limit uint32) ([]models.ThreadSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if folder == "" {
		folder = c.folder
	}
	if limit == 0 {
		limit = DefaultFetchLimit
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, err := c.fetchRecent(folder, limit)
	if err != nil {
		return nil, err
	}

	threads := newThreadBuilder().build(msgs)
	summaries := make([]models.ThreadSummary, 0, len(threads))
	for _, t := range threads {
		sum := t.thread.Summary()
		sum.HasReplies = t.hasRepliesTo(c.username)
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// FetchThread retrieves the full conversation for a thread ID by searching
// the folder for the root message and everything referencing it.
func (c *Client) FetchThread(ctx context.Context, id string) (*models.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("empty thread id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.client.Select(c.folder, true); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	uids, err := c.client.UidSearch(threadSearchCriteria(id))
	if err != nil {
		return nil, fmt.Errorf("thread search failed: %w", err)
	}
	if len(uids) == 0 {
		return nil, fmt.Errorf("thread %s not found in %s", id, c.folder)
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	msgs, err := c.fetchSet(set, true)
	if err != nil {
		return nil, err
	}

	threads := newThreadBuilder().build(msgs)
	for _, t := range threads {
		if t.thread.ID == id {
			return t.thread, nil
		}
	}
	if len(threads) == 1 {
		// The search keyed the thread by a non-root message. Keep the
		// caller's ID so cache lookups stay consistent.
		t := threads[0].thread
		t.ID = id
		return t, nil
	}
	return nil, fmt.Errorf("thread %s not found in %s", id, c.folder)
}

// threadSearchCriteria matches messages that either are the thread root or
// reference it through In-Reply-To or References.
func threadSearchCriteria(id string) *imap.SearchCriteria {
	byID := imap.NewSearchCriteria()
	byID.Header.Add("Message-Id", id)

	byRefs := imap.NewSearchCriteria()
	byRefs.Header.Add("References", id)

	byReply := imap.NewSearchCriteria()
	byReply.Header.Add("In-Reply-To", id)

	refsOrReply := imap.NewSearchCriteria()
	refsOrReply.Or = [][2]*imap.SearchCriteria{{byRefs, byReply}}

	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{byID, refsOrReply}}
	return criteria
}

// fetchRecent selects folder and fetches its last limit messages.
func (c *Client) fetchRecent(folder string, limit uint32) ([]*fetchedMessage, error) {
	mbox, err := c.client.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	from := uint32(1)
	if mbox.Messages > limit {
		from = mbox.Messages - limit + 1
	}
	set := new(imap.SeqSet)
	set.AddRange(from, mbox.Messages)

	return c.fetchSet(set, false)
}

// fetchSet downloads and parses every message in the set. Messages that fail
// to parse are skipped; the rest of the set still comes back.
func (c *Client) fetchSet(set *imap.SeqSet, byUID bool) ([]*fetchedMessage, error) {
	// References is not part of the envelope, so it rides along as a header
	// section.
	refSection := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"References"},
		},
		Peek: true,
	}
	bodySection := &imap.BodySectionName{Peek: true}

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchBodyStructure,
		imap.FetchUid,
		bodySection.FetchItem(),
		refSection.FetchItem(),
	}

	messages := make(chan *imap.Message, 20)
	done := make(chan error, 1)
	go func() {
		if byUID {
			done <- c.client.UidFetch(set, items, messages)
		} else {
			done <- c.client.Fetch(set, items, messages)
		}
	}()

	var out []*fetchedMessage
	for msg := range messages {
		m, err := c.parseMessage(msg, refSection)
		if err != nil {
			c.log.Warn("Skipping unparseable message %d: %v", msg.Uid, err)
			continue
		}
		out = append(out, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return out, nil
}

// parseMessage turns a raw IMAP message into a fetchedMessage: envelope
// fields, threading headers, sanitized bodies, and attachment metadata.
func (c *Client) parseMessage(msg *imap.Message, refSection *imap.BodySectionName) (*fetchedMessage, error) {
	m := &fetchedMessage{uid: msg.Uid}

	if env := msg.Envelope; env != nil {
		m.subject = env.Subject
		m.date = env.Date
		m.messageID = trimMessageID(env.MessageId)
		m.inReplyTo = trimMessageID(env.InReplyTo)
		if len(env.From) > 0 && env.From[0] != nil {
			m.from = env.From[0].Address()
		}
		for _, addr := range env.To {
			if addr != nil {
				m.to = append(m.to, addr.Address())
			}
		}
	}

	if r := msg.GetBody(refSection); r != nil {
		headerBytes, _ := io.ReadAll(r)
		header := string(headerBytes)
		if idx := strings.Index(header, ":"); idx > -1 {
			for _, ref := range strings.Fields(header[idx+1:]) {
				m.references = append(m.references, trimMessageID(ref))
			}
		}
	}

	var bodySection imap.BodySectionName
	if r := msg.GetBody(&bodySection); r != nil {
		text, html, err := parseBody(r)
		if err != nil {
			return nil, err
		}
		m.text = text
		m.html = html
	}

	m.attachments = collectAttachments(msg.BodyStructure)
	return m, nil
}

// parseBody extracts the plain-text and HTML parts of a message. HTML is
// sanitized before it is stored anywhere.
func parseBody(r io.Reader) (text, html string, err error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse message: %w", err)
	}

	mediaType, params, typeErr := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if typeErr == nil && strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}

			data, err := io.ReadAll(part)
			if err != nil {
				continue
			}

			partType := part.Header.Get("Content-Type")
			switch {
			case strings.Contains(partType, "text/plain") && text == "":
				text = string(data)
			case strings.Contains(partType, "text/html") && html == "":
				html = utils.SanitizeHTML(string(data))
			}
		}
		return text, html, nil
	}

	data, err := io.ReadAll(msg.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read body: %w", err)
	}
	if typeErr == nil && mediaType == "text/html" {
		return "", utils.SanitizeHTML(string(data)), nil
	}
	return string(data), "", nil
}

// collectAttachments walks the body structure and records attachment
// metadata. Contents are not downloaded; the cache stores only filename,
// type, and size.
func collectAttachments(bs *imap.BodyStructure) []models.Attachment {
	var out []models.Attachment

	var walk func(part *imap.BodyStructure)
	walk = func(part *imap.BodyStructure) {
		if part == nil {
			return
		}

		disposition := strings.ToLower(part.Disposition)
		isAttachment := disposition == "attachment" ||
			(disposition == "inline" && strings.ToLower(part.MIMEType) != "text")
		if isAttachment {
			name := part.DispositionParams["filename"]
			if name == "" {
				name = part.Params["name"]
			}
			out = append(out, models.Attachment{
				Filename:    name,
				ContentType: fmt.Sprintf("%s/%s", strings.ToLower(part.MIMEType), strings.ToLower(part.MIMESubType)),
				Size:        int(part.Size),
			})
		}

		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(bs)

	return out
}

// trimMessageID strips the angle brackets mail headers wrap IDs in, so IDs
// are safe to use as cache keys and URL parameters.
func trimMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
