package imap

import (
	"fmt"
	"io"
	"sort"

	"github.com/emersion/go-imap"

	"github.com/kestrelmail/kestrel/internal/faults"
)

// RawMessage is one wire-format message as returned by a fetch: the
// sequence number that identifies it within the selected folder at
// fetch time, the flags the server reported, and the full undecoded
// message source.
type RawMessage struct {
	SeqNum uint32
	UID    uint32
	Flags  []string
	Body   []byte
}

// FetchRange returns raw messages from a folder ordered newest first.
// The full ordered set of sequence numbers is reversed and sliced
// [offset, offset+limit); an out-of-range offset yields an empty
// result, not an error.
func (c *Client) FetchRange(folder string, offset, limit int) ([]RawMessage, error) {
	mbox, err := c.selectRaw("fetch range", folder)
	if err != nil {
		return nil, err
	}

	total := int(mbox.Messages)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []RawMessage{}, nil
	}

	// Newest-first position p maps to sequence number total-p.
	hi := uint32(total - offset)
	lo := total - offset - limit + 1
	if lo < 1 {
		lo = 1
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(uint32(lo), hi)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		imap.FetchFlags,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)

	go func() {
		done <- c.c.Fetch(seqSet, items, messages)
	}()

	var result []RawMessage
	for msg := range messages {
		raw := RawMessage{
			SeqNum: msg.SeqNum,
			UID:    msg.Uid,
			Flags:  append([]string(nil), msg.Flags...),
		}
		if r := msg.GetBody(section); r != nil {
			body, err := io.ReadAll(r)
			if err == nil {
				raw.Body = body
			} else {
				c.logger.Warn("failed to read message body", "seq", msg.SeqNum, "error", err)
			}
		}
		result = append(result, raw)
	}

	if err := <-done; err != nil {
		return nil, faults.Protocol("fetch range", fmt.Errorf("failed to fetch messages: %w", err))
	}

	// The server streams in sequence order; the contract is newest first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].SeqNum > result[j].SeqNum
	})

	return result, nil
}
