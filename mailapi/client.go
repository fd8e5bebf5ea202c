package mailapi

import (
	"fmt"
	"sync"

	"github.com/emersion/go-imap/client"

	"jobtrail/utils"
)

// DefaultFolder is the mailbox used when none is configured.
const DefaultFolder = "INBOX"

// Client wraps an IMAP connection to the account's mailbox. The connection is
// a single command pipeline, so fetch operations are serialized; callers may
// still invoke them from multiple goroutines.
type Client struct {
	mu       sync.Mutex
	client   *client.Client
	username string
	folder   string
	log      *utils.Logger
}

// NewClient connects over TLS and logs in. folder selects which mailbox
// thread fetches read from; empty means DefaultFolder.
func NewClient(server string, port int, username, password, folder string, log *utils.Logger) (*Client, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", server, port), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", server, port, err)
	}

	if err := c.Login(username, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login failed for %s: %w", username, err)
	}

	if folder == "" {
		folder = DefaultFolder
	}

	log.Info("Connected to mailbox %s on %s", folder, server)
	return &Client{client: c, username: username, folder: folder, log: log}, nil
}

// Username returns the account address the client authenticated as.
func (c *Client) Username() string {
	return c.username
}

// Folder returns the mailbox thread fetches read from.
func (c *Client) Folder() string {
	return c.folder
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	return c.client.Logout()
}
