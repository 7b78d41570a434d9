package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmail/kestrel/internal/models"
	"github.com/kestrelmail/kestrel/internal/testutil"
)

func TestMutateFlag(t *testing.T) {
	server := testutil.StartMailServer(t)
	server.CreateFolder(t, "Work")
	server.Append(t, "Work", testutil.TestMessage{Subject: "toggle me"})
	c := connectedClient(t, server)

	_, err := c.SelectFolder("Work")
	require.NoError(t, err)

	require.NoError(t, c.MutateFlag(1, models.FlagSeen, true))

	msgs, err := c.FetchRange("Work", 0, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Flags, models.FlagSeen)

	require.NoError(t, c.MutateFlag(1, models.FlagSeen, false))

	msgs, err = c.FetchRange("Work", 0, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Flags, models.FlagSeen)
}

func TestMove(t *testing.T) {
	server := testutil.StartMailServer(t)
	server.CreateFolder(t, "Source")
	server.CreateFolder(t, "Target")
	server.Append(t, "Source", testutil.TestMessage{Subject: "keep"})
	server.Append(t, "Source", testutil.TestMessage{Subject: "relocate"})
	c := connectedClient(t, server)

	_, err := c.SelectFolder("Source")
	require.NoError(t, err)

	// Sequence number 2 is the second appended message.
	require.NoError(t, c.Move(2, "Target"))

	status, err := c.FolderStatus("Source")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Messages)

	status, err = c.FolderStatus("Target")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Messages)

	msgs, err := c.FetchRange("Target", 0, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Body), "Subject: relocate")
}

func TestMoveToMissingFolderKeepsMessage(t *testing.T) {
	server := testutil.StartMailServer(t)
	server.CreateFolder(t, "Source")
	server.Append(t, "Source", testutil.TestMessage{Subject: "stays"})
	c := connectedClient(t, server)

	_, err := c.SelectFolder("Source")
	require.NoError(t, err)

	require.Error(t, c.Move(1, "NoSuchFolder"))

	// The copy failed before any deletion flag was set.
	status, err := c.FolderStatus("Source")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Messages)
}
