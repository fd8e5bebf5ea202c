package mailapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-imap"
)

// AttachmentData is a downloaded attachment. The cache stores attachment
// metadata only; content is fetched on demand and lives for one request.
type AttachmentData struct {
	Filename    string
	ContentType string
	Content     []byte
}

// attachmentRef locates one attachment part: which message and which body
// part path within it.
type attachmentRef struct {
	uid         uint32
	path        []int
	contentType string
	encoding    string
}

// FetchAttachment downloads a single attachment from the thread's messages,
// identified by filename.
func (c *Client) FetchAttachment(ctx context.Context, threadID, filename string) (*AttachmentData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if threadID == "" || filename == "" {
		return nil, fmt.Errorf("thread id and filename are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.client.Select(c.folder, true); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	uids, err := c.client.UidSearch(threadSearchCriteria(threadID))
	if err != nil {
		return nil, fmt.Errorf("thread search failed: %w", err)
	}
	if len(uids) == 0 {
		return nil, fmt.Errorf("thread %s not found in %s", threadID, c.folder)
	}

	ref, err := c.locateAttachment(uids, filename)
	if err != nil {
		return nil, err
	}

	content, err := c.downloadPart(ref)
	if err != nil {
		return nil, err
	}

	return &AttachmentData{
		Filename:    filename,
		ContentType: ref.contentType,
		Content:     content,
	}, nil
}

// locateAttachment fetches body structures for the thread's messages and
// finds which part carries the named file.
func (c *Client) locateAttachment(uids []uint32, filename string) (*attachmentRef, error) {
	set := new(imap.SeqSet)
	set.AddNum(uids...)

	messages := make(chan *imap.Message, 20)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(set, []imap.FetchItem{imap.FetchUid, imap.FetchBodyStructure}, messages)
	}()

	var ref *attachmentRef
	for msg := range messages {
		if ref == nil {
			ref = findAttachmentPart(msg.Uid, msg.BodyStructure, filename)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	if ref == nil {
		return nil, fmt.Errorf("attachment %s not found", filename)
	}
	return ref, nil
}

// findAttachmentPart walks a message's body structure for a part whose
// filename matches. For a non-multipart message the lone body is part 1.
func findAttachmentPart(uid uint32, bs *imap.BodyStructure, filename string) *attachmentRef {
	var found *attachmentRef

	var walk func(part *imap.BodyStructure, path []int)
	walk = func(part *imap.BodyStructure, path []int) {
		if part == nil || found != nil {
			return
		}

		name := part.DispositionParams["filename"]
		if name == "" {
			name = part.Params["name"]
		}
		if name == filename {
			if len(path) == 0 {
				path = []int{1}
			}
			found = &attachmentRef{
				uid:         uid,
				path:        path,
				contentType: fmt.Sprintf("%s/%s", strings.ToLower(part.MIMEType), strings.ToLower(part.MIMESubType)),
				encoding:    strings.ToLower(part.Encoding),
			}
			return
		}

		for i, child := range part.Parts {
			childPath := append(append([]int(nil), path...), i+1)
			walk(child, childPath)
		}
	}
	walk(bs, nil)

	return found
}

// downloadPart fetches exactly one body part and reverses its transfer
// encoding.
func (c *Client) downloadPart(ref *attachmentRef) ([]byte, error) {
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Path: ref.path},
		Peek:         true,
	}

	set := new(imap.SeqSet)
	set.AddNum(ref.uid)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(set, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, messages)
	}()

	var raw []byte
	for msg := range messages {
		if r := msg.GetBody(section); r != nil {
			data, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment: %w", err)
			}
			raw = data
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("attachment part %v missing from response", ref.path)
	}

	return decodeTransferEncoding(raw, ref.encoding)
}

// decodeTransferEncoding reverses a part's Content-Transfer-Encoding so the
// caller gets the file's real bytes.
func decodeTransferEncoding(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		cleaned := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' {
				return -1
			}
			return r
		}, string(data))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment: %w", err)
		}
		return decoded, nil
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment: %w", err)
		}
		return decoded, nil
	default:
		return data, nil
	}
}
