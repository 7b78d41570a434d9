package models

import "time"

// Thread is a reconstructed conversation: a derived view over a set of
// emails, recomputed on every threading pass and never persisted.
type Thread struct {
	RootEmail         *Email              `json:"root_email"`
	Emails            []*Email            `json:"emails"`
	Participants      map[string]struct{} `json:"-"`
	NormalizedSubject string              `json:"normalized_subject"`
	MessageIDs        map[uint32]struct{} `json:"-"`
	References        map[string]struct{} `json:"-"`
	LastUpdated       time.Time           `json:"last_updated"`
}

// Contains reports whether the thread holds the given message ID.
func (t *Thread) Contains(messageID uint32) bool {
	_, ok := t.MessageIDs[messageID]
	return ok
}

// HasParticipant reports whether the address (lowercased bare address)
// took part in the conversation.
func (t *Thread) HasParticipant(address string) bool {
	_, ok := t.Participants[address]
	return ok
}
