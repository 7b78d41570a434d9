package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFolderNameCodec(t *testing.T) {
	tests := []struct {
		decoded string
		encoded string
	}{
		{"INBOX", "INBOX"},
		{"Sent Items", "Sent Items"},
		{"Entwürfe", "Entw&APw-rfe"},
		{"送信済み", "&kAFP4W4IMH8-"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.encoded, EncodeFolderName(tc.decoded), "encode %q", tc.decoded)
		assert.Equal(t, tc.decoded, DecodeFolderName(tc.encoded), "decode %q", tc.encoded)
	}
}

func TestDecodeFolderNameKeepsInvalidInput(t *testing.T) {
	// A name that is not valid modified UTF-7 comes back untouched.
	assert.Equal(t, "&invalid", DecodeFolderName("&invalid"))
}
