package mailapi

import (
	"sort"
	"strings"
	"time"

	"jobtrail/models"
	"jobtrail/utils"
)

// container is a node in the conversation graph, one per Message-ID. A
// container may be a phantom: referenced by other messages but not fetched
// itself.
type container struct {
	id       string
	msg      *fetchedMessage
	parent   *container
	children []*container
}

// builtThread pairs a materialized thread with its source messages so callers
// can derive flags the cached model does not carry per message.
type builtThread struct {
	thread *models.Thread
	msgs   []*fetchedMessage
}

// hasRepliesTo reports whether anyone other than owner wrote in the thread.
func (t *builtThread) hasRepliesTo(owner string) bool {
	for _, m := range t.msgs {
		if m.from != "" && !strings.EqualFold(m.from, owner) {
			return true
		}
	}
	return false
}

// threadBuilder groups fetched messages into conversations by walking their
// Message-ID, In-Reply-To, and References headers.
type threadBuilder struct {
	idTable map[string]*container
}

func newThreadBuilder() *threadBuilder {
	return &threadBuilder{idTable: make(map[string]*container)}
}

// build links messages into parent/child containers and materializes one
// thread per root, newest first.
func (tb *threadBuilder) build(msgs []*fetchedMessage) []*builtThread {
	for _, m := range msgs {
		if m.messageID == "" {
			// Synthetic ID for messages without a Message-ID header. It must
			// be stable across refetches, so it is derived from the message,
			// not generated fresh.
			m.messageID = utils.GenerateThreadID(utils.NormalizeSubject(m.subject) + m.date.UTC().Format(time.RFC3339))
		}

		c := tb.getContainer(m.messageID)
		c.msg = m

		// Chain References oldest to newest.
		var prev *container
		for _, ref := range m.references {
			if ref == "" || ref == m.messageID {
				continue
			}
			cur := tb.getContainer(ref)
			if prev != nil && cur != prev && cur.parent == nil && !isAncestor(cur, prev) {
				cur.parent = prev
				prev.children = append(prev.children, cur)
			}
			prev = cur
		}

		// Hang the message off its direct parent, falling back to the last
		// reference when In-Reply-To is missing.
		parentID := m.inReplyTo
		if parentID == "" && len(m.references) > 0 {
			parentID = m.references[len(m.references)-1]
		}
		if parentID != "" && parentID != m.messageID {
			parent := tb.getContainer(parentID)
			if c.parent == nil && parent != c && !isAncestor(c, parent) {
				c.parent = parent
				parent.children = append(parent.children, c)
			}
		}
	}

	var threads []*builtThread
	for _, c := range tb.idTable {
		if c.parent != nil {
			continue
		}
		if t := materialize(c); t != nil {
			threads = append(threads, t)
		}
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].thread.UpdatedAt.After(threads[j].thread.UpdatedAt)
	})
	return threads
}

func (tb *threadBuilder) getContainer(id string) *container {
	c, ok := tb.idTable[id]
	if !ok {
		c = &container{id: id}
		tb.idTable[id] = c
	}
	return c
}

// isAncestor reports whether anc appears on node's parent chain. Links that
// would close a cycle are skipped.
func isAncestor(anc, node *container) bool {
	for n := node; n != nil; n = n.parent {
		if n == anc {
			return true
		}
	}
	return false
}

// materialize flattens a root container into a Thread with its messages in
// chronological order. Roots with no fetched messages produce nil.
func materialize(root *container) *builtThread {
	var msgs []*fetchedMessage
	var collect func(*container)
	collect = func(c *container) {
		if c.msg != nil {
			msgs = append(msgs, c.msg)
		}
		for _, child := range c.children {
			collect(child)
		}
	}
	collect(root)

	if len(msgs) == 0 {
		return nil
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].date.Before(msgs[j].date)
	})

	thread := &models.Thread{
		ID:      root.id,
		Subject: cleanSubject(msgs[0].subject),
	}

	seen := make(map[string]bool)
	addRecipient := func(addr string) {
		addr = strings.TrimSpace(addr)
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		thread.Recipients = append(thread.Recipients, addr)
	}

	for _, m := range msgs {
		thread.Messages = append(thread.Messages, models.Message{
			From:        m.from,
			To:          m.to,
			Date:        m.date,
			Subject:     m.subject,
			HTML:        m.html,
			Text:        m.text,
			Attachments: m.attachments,
		})
		addRecipient(m.from)
		for _, to := range m.to {
			addRecipient(to)
		}
		if m.date.After(thread.UpdatedAt) {
			thread.UpdatedAt = m.date
		}
	}

	return &builtThread{thread: thread, msgs: msgs}
}

var replyPrefixes = []string{"re:", "fwd:", "fw:", "aw:", "wg:"}

// cleanSubject strips reply and forward prefixes while preserving case.
func cleanSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for {
		stripped := false
		lower := strings.ToLower(subject)
		for _, prefix := range replyPrefixes {
			if strings.HasPrefix(lower, prefix) {
				subject = strings.TrimSpace(subject[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			return subject
		}
	}
}
