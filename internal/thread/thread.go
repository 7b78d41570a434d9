// Package thread groups a flat collection of emails into conversation
// threads. The computation is pure: it never touches the network or
// storage, and every call recomputes threads from its input.
package thread

import (
	"net/mail"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kestrelmail/kestrel/internal/models"
)

// subjectMarker matches one leading reply/forward marker.
var subjectMarker = regexp.MustCompile(`(?i)^(?:re|fwd|fw):\s*`)

// NormalizeSubject strips the leading reply/forward marker from a
// subject, for case-insensitive conversation matching.
func NormalizeSubject(subject string) string {
	return strings.TrimSpace(subjectMarker.ReplaceAllString(subject, ""))
}

// Process groups emails into threads. Emails are considered oldest
// first; each one joins the first existing thread it relates to, by
// reference overlap first and subject-plus-participant overlap as the
// fallback, or starts a new thread. The result is ordered by last
// update, newest thread first.
//
// The reference check deliberately wins over the subject heuristic
// even when both would match different threads; first match decides,
// with no scoring.
func Process(emails []*models.Email) []*models.Thread {
	sorted := make([]*models.Email, len(emails))
	copy(sorted, emails)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var threads []*models.Thread
	for _, email := range sorted {
		placed := false
		for _, t := range threads {
			if related(t, email) {
				appendEmail(t, email)
				placed = true
				break
			}
		}
		if !placed {
			threads = append(threads, newThread(email))
		}
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastUpdated.After(threads[j].LastUpdated)
	})
	return threads
}

// ThreadForMessage returns the thread containing the given message ID,
// or nil when no thread holds it.
func ThreadForMessage(threads []*models.Thread, messageID uint32) *models.Thread {
	for _, t := range threads {
		if t.Contains(messageID) {
			return t
		}
	}
	return nil
}

// ThreadsBySubject returns the threads whose normalized subject equals
// the normalized form of subject.
func ThreadsBySubject(threads []*models.Thread, subject string) []*models.Thread {
	want := strings.ToLower(NormalizeSubject(subject))
	var out []*models.Thread
	for _, t := range threads {
		if strings.ToLower(t.NormalizedSubject) == want {
			out = append(out, t)
		}
	}
	return out
}

// ThreadsByParticipant returns the threads in which the address took
// part, as sender or recipient of any member email.
func ThreadsByParticipant(threads []*models.Thread, address string) []*models.Thread {
	want := strings.ToLower(strings.TrimSpace(address))
	var out []*models.Thread
	for _, t := range threads {
		if t.HasParticipant(want) {
			out = append(out, t)
		}
	}
	return out
}

// newThread starts a thread rooted at the email.
func newThread(email *models.Email) *models.Thread {
	t := &models.Thread{
		RootEmail:         email,
		Emails:            []*models.Email{email},
		Participants:      participants(email),
		NormalizedSubject: NormalizeSubject(email.Subject),
		MessageIDs:        map[uint32]struct{}{email.MessageID: {}},
		References:        references(email),
		LastUpdated:       email.Date,
	}
	return t
}

// related reports whether the email belongs to the thread: reference
// overlap first, then equal normalized subject with at least one
// shared participant.
func related(t *models.Thread, email *models.Email) bool {
	if _, ok := t.References[strconv.FormatUint(uint64(email.MessageID), 10)]; ok {
		return true
	}
	for ref := range references(email) {
		if _, ok := t.References[ref]; ok {
			return true
		}
		if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
			if _, ok := t.MessageIDs[uint32(id)]; ok {
				return true
			}
		}
	}

	if !strings.EqualFold(NormalizeSubject(email.Subject), t.NormalizedSubject) {
		return false
	}
	for p := range participants(email) {
		if _, ok := t.Participants[p]; ok {
			return true
		}
	}
	return false
}

// appendEmail merges the email into the thread. Threads are never
// split once formed, only extended.
func appendEmail(t *models.Thread, email *models.Email) {
	t.Emails = append(t.Emails, email)
	t.MessageIDs[email.MessageID] = struct{}{}
	for p := range participants(email) {
		t.Participants[p] = struct{}{}
	}
	for r := range references(email) {
		t.References[r] = struct{}{}
	}
	if email.Date.After(t.LastUpdated) {
		t.LastUpdated = email.Date
	}
}

// participants collects the lowercased bare addresses of the sender
// and every recipient field.
func participants(email *models.Email) map[string]struct{} {
	out := make(map[string]struct{})
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if parsed, err := mail.ParseAddress(raw); err == nil {
			raw = parsed.Address
		}
		out[strings.ToLower(raw)] = struct{}{}
	}

	add(email.Sender)
	for _, addr := range email.Recipients.To {
		add(addr)
	}
	for _, addr := range email.Recipients.Cc {
		add(addr)
	}
	for _, addr := range email.Recipients.Bcc {
		add(addr)
	}
	return out
}

// references collects the tokens of the References and In-Reply-To
// headers, angle brackets stripped.
func references(email *models.Email) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range []string{"References", "In-Reply-To"} {
		for _, token := range strings.Fields(email.Metadata.Header(field)) {
			token = strings.Trim(token, "<>")
			if token != "" {
				out[token] = struct{}{}
			}
		}
	}
	return out
}
