package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataHeaderIsCaseInsensitive(t *testing.T) {
	m := Metadata{Headers: map[string]string{
		"In-Reply-To": "<parent@example.com>",
	}}

	assert.Equal(t, "<parent@example.com>", m.Header("In-Reply-To"))
	assert.Equal(t, "<parent@example.com>", m.Header("in-reply-to"))
	assert.Equal(t, "<parent@example.com>", m.Header("IN-REPLY-TO"))
	assert.Empty(t, m.Header("References"))

	var empty Metadata
	assert.Empty(t, empty.Header("Subject"))
}

func TestEmailFlags(t *testing.T) {
	e := &Email{Flags: []string{FlagSeen, FlagFlagged}}

	assert.True(t, e.HasFlag(FlagSeen))
	assert.True(t, e.HasFlag(FlagFlagged))
	assert.False(t, e.HasFlag(FlagDeleted))
	assert.False(t, (&Email{}).HasFlag(FlagSeen))
}

func TestEmailHasAttachments(t *testing.T) {
	assert.False(t, (&Email{}).HasAttachments())
	assert.True(t, (&Email{Attachments: []Attachment{{Filename: "a"}}}).HasAttachments())
}
