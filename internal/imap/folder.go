package imap

import (
	"fmt"

	"github.com/emersion/go-imap"

	"github.com/kestrelmail/kestrel/internal/faults"
	"github.com/kestrelmail/kestrel/internal/models"
)

// ListFolders lists every mailbox on the server. Folder names are
// decoded from modified UTF-7; a name that fails to decode is kept in
// its raw form instead of aborting the listing.
func (c *Client) ListFolders() ([]models.Folder, error) {
	conn, err := c.conn("list folders")
	if err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- conn.List("", "*", mailboxes)
	}()

	var folders []models.Folder
	for m := range mailboxes {
		folders = append(folders, models.Folder{
			Name:       DecodeFolderName(m.Name),
			Attributes: m.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, faults.Protocol("list folders", fmt.Errorf("failed to list folders: %w", err))
	}

	return folders, nil
}

// SelectFolder makes a folder the active context for subsequent fetch
// and status calls.
func (c *Client) SelectFolder(name string) (models.FolderStatus, error) {
	mbox, err := c.selectRaw("select folder", name)
	if err != nil {
		return models.FolderStatus{}, err
	}

	return models.FolderStatus{
		Name:     name,
		Messages: mbox.Messages,
		Unseen:   mbox.Unseen,
		Recent:   mbox.Recent,
	}, nil
}

// FolderStatus returns the message, unseen, and recent counts of a
// folder without selecting it.
func (c *Client) FolderStatus(name string) (models.FolderStatus, error) {
	conn, err := c.conn("folder status")
	if err != nil {
		return models.FolderStatus{}, err
	}

	items := []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen, imap.StatusRecent}
	status, err := conn.Status(name, items)
	if err != nil {
		return models.FolderStatus{}, faults.Protocol("folder status", fmt.Errorf("failed to get status of folder %s: %w", name, err))
	}

	return models.FolderStatus{
		Name:     name,
		Messages: status.Messages,
		Unseen:   status.Unseen,
		Recent:   status.Recent,
	}, nil
}

// CreateFolder creates a new mailbox.
func (c *Client) CreateFolder(name string) error {
	conn, err := c.conn("create folder")
	if err != nil {
		return err
	}

	if err := conn.Create(name); err != nil {
		return faults.Protocol("create folder", fmt.Errorf("failed to create folder %s: %w", name, err))
	}
	return nil
}

// DeleteFolder removes a mailbox.
func (c *Client) DeleteFolder(name string) error {
	conn, err := c.conn("delete folder")
	if err != nil {
		return err
	}

	if err := conn.Delete(name); err != nil {
		return faults.Protocol("delete folder", fmt.Errorf("failed to delete folder %s: %w", name, err))
	}
	if c.selected == name {
		c.selected = ""
	}
	return nil
}

// RenameFolder renames a mailbox.
func (c *Client) RenameFolder(name, newName string) error {
	conn, err := c.conn("rename folder")
	if err != nil {
		return err
	}

	if err := conn.Rename(name, newName); err != nil {
		return faults.Protocol("rename folder", fmt.Errorf("failed to rename folder %s to %s: %w", name, newName, err))
	}
	if c.selected == name {
		c.selected = newName
	}
	return nil
}
