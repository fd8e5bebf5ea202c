package mailapi

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"
)

// FolderInfo describes one mailbox folder on the mail server.
type FolderInfo struct {
	Name       string   `json:"name"`
	Delimiter  string   `json:"delimiter"`
	Attributes []string `json:"attributes,omitempty"`
}

// ListFolders returns the account's mailbox folders, so clients know which
// folder names they can pass to a summary refresh.
func (c *Client) ListFolders(ctx context.Context) ([]FolderInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var folders []FolderInfo
	for mb := range mailboxes {
		folders = append(folders, FolderInfo{
			Name:       mb.Name,
			Delimiter:  mb.Delimiter,
			Attributes: mb.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}
