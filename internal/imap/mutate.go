package imap

import (
	"fmt"

	"github.com/emersion/go-imap"

	"github.com/kestrelmail/kestrel/internal/faults"
)

// MutateFlag adds or removes a single flag on a message in the active
// folder. The message is identified by its sequence number at fetch
// time.
func (c *Client) MutateFlag(messageID uint32, flag string, add bool) error {
	conn, err := c.conn("mutate flag")
	if err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(messageID)

	op := imap.FlagsOp(imap.RemoveFlags)
	if add {
		op = imap.AddFlags
	}
	item := imap.FormatFlagsOp(op, true)

	if err := conn.Store(seqSet, item, []interface{}{flag}, nil); err != nil {
		return faults.Protocol("mutate flag", fmt.Errorf("failed to store flag %s on message %d: %w", flag, messageID, err))
	}
	return nil
}

// Move transfers a message from the active folder to targetFolder.
// Implemented as copy, flag for deletion, then expunge. If the copy
// fails the operation aborts before any deletion flag is set, so a
// failed move never loses the message.
func (c *Client) Move(messageID uint32, targetFolder string) error {
	conn, err := c.conn("move")
	if err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(messageID)

	if err := conn.Copy(seqSet, targetFolder); err != nil {
		return faults.Protocol("move", fmt.Errorf("failed to copy message %d to %s: %w", messageID, targetFolder, err))
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := conn.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return faults.Protocol("move", fmt.Errorf("failed to flag message %d for deletion: %w", messageID, err))
	}

	if err := conn.Expunge(nil); err != nil {
		return faults.Protocol("move", fmt.Errorf("failed to expunge after move: %w", err))
	}

	c.logger.Debug("moved message", "message_id", messageID, "target", targetFolder)
	return nil
}
