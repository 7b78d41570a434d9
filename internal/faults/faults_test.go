package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cause := errors.New("boom")

	assert.True(t, IsConnection(Connection("dial", cause)))
	assert.True(t, IsProtocol(Protocol("select", cause)))
	assert.True(t, IsParse(Parse("read", cause)))
	assert.True(t, IsStorage(Storage("write", cause)))

	assert.False(t, IsConnection(Protocol("select", cause)))
	assert.False(t, IsStorage(nil))
	assert.False(t, IsParse(errors.New("plain")))
}

func TestWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := Connection("dial", fmt.Errorf("failed to dial: %w", cause))

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial")
	assert.Contains(t, err.Error(), "connection refused")

	// Classification survives another layer of wrapping.
	wrapped := fmt.Errorf("outer context: %w", err)
	assert.True(t, IsConnection(wrapped))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "connection", KindConnection.String())
	assert.Equal(t, "protocol", KindProtocol.String())
	assert.Equal(t, "parse", KindParse.String())
	assert.Equal(t, "storage", KindStorage.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
