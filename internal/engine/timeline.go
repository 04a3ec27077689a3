package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"learnhub-chat/internal/domain"
)

// TimelineEntry is one row of a conversation timeline: either a message or
// a system notice. Pending marks an optimistic send awaiting its
// authoritative echo; Failed marks a send the server rejected (kept visible
// so the user can retry, never silently dropped).
type TimelineEntry struct {
	Message *domain.Message
	Notice  *domain.Notice
	Pending bool
	Failed  bool

	arrival uint64
}

// IsNotice reports whether the entry is a system marker rather than a message
func (e *TimelineEntry) IsNotice() bool {
	return e.Notice != nil
}

func (e *TimelineEntry) createdAt() time.Time {
	if e.Notice != nil {
		return e.Notice.CreatedAt
	}
	return e.Message.CreatedAt
}

// timeline is the locally materialized, deduplicated, time-ordered message
// buffer for one conversation. Ordering is ascending CreatedAt with ties
// broken by arrival order, so consumers see append-only behavior in the
// common case.
type timeline struct {
	entries []*TimelineEntry
	byID    map[string]*TimelineEntry
	seq     uint64

	// pending optimistic sends indexed by content signature, for
	// reconciling the authoritative echo without duplication
	sigs map[string]pendingSig
}

type pendingSig struct {
	tempID string
	at     time.Time
}

func newTimeline() *timeline {
	return &timeline{
		byID: make(map[string]*TimelineEntry),
		sigs: make(map[string]pendingSig),
	}
}

// insert adds a message if no entry with its id exists yet. The idempotent
// merge is what makes duplicate delivery (reconnect replay, REST echo plus
// live echo) harmless.
func (t *timeline) insert(msg domain.Message, pending bool) bool {
	if _, exists := t.byID[msg.ID]; exists {
		return false
	}

	m := msg
	entry := &TimelineEntry{Message: &m, Pending: pending, arrival: t.nextSeq()}
	t.byID[msg.ID] = entry
	t.insertSorted(entry)
	return true
}

// insertNotice adds a system marker; notices have no id and no dedup
func (t *timeline) insertNotice(n domain.Notice) {
	notice := n
	t.insertSorted(&TimelineEntry{Notice: &notice, arrival: t.nextSeq()})
}

// insertSorted places the entry after every entry with an earlier-or-equal
// timestamp. Out-of-order arrival is rare, so scanning from the tail is the
// cheap path.
func (t *timeline) insertSorted(entry *TimelineEntry) {
	idx := len(t.entries)
	for idx > 0 && t.entries[idx-1].createdAt().After(entry.createdAt()) {
		idx--
	}

	t.entries = append(t.entries, nil)
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = entry
}

// replaceHistory swaps in a freshly fetched history buffer. Optimistic
// entries still awaiting their echo (and visible failed sends) survive the
// replacement.
func (t *timeline) replaceHistory(msgs []domain.Message) {
	var kept []*TimelineEntry
	for _, e := range t.entries {
		if e.Pending || e.Failed {
			kept = append(kept, e)
		}
	}

	t.entries = nil
	t.byID = make(map[string]*TimelineEntry)
	for _, e := range kept {
		t.byID[e.Message.ID] = e
		t.insertSorted(e)
	}

	for _, msg := range msgs {
		t.insert(msg, false)
	}
}

// reconcile replaces the optimistic entry with the authoritative message.
// If the authoritative copy already arrived via the live stream, the
// optimistic entry is simply dropped: single winner.
func (t *timeline) reconcile(tempID string, auth domain.Message) {
	t.remove(tempID)
	t.insert(auth, false)
}

// markFailed flags an optimistic entry whose send was rejected
func (t *timeline) markFailed(tempID string) {
	if entry, ok := t.byID[tempID]; ok {
		entry.Pending = false
		entry.Failed = true
	}
}

// remove deletes a message entry by id
func (t *timeline) remove(id string) bool {
	entry, ok := t.byID[id]
	if !ok {
		return false
	}

	delete(t.byID, id)
	for i, e := range t.entries {
		if e == entry {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	return true
}

func (t *timeline) get(id string) (*TimelineEntry, bool) {
	entry, ok := t.byID[id]
	return entry, ok
}

// advanceStatus moves a message's status forward, never backward
func (t *timeline) advanceStatus(id string, status domain.Status) bool {
	entry, ok := t.byID[id]
	if !ok || entry.IsNotice() {
		return false
	}
	if status.Rank() <= entry.Message.Status.Rank() {
		return false
	}
	entry.Message.Status = status
	return true
}

// registerSig remembers an optimistic send awaiting its authoritative echo
func (t *timeline) registerSig(sig, tempID string, at time.Time) {
	t.sigs[sig] = pendingSig{tempID: tempID, at: at}
}

// takeSigMatch claims the pending optimistic entry matching the signature,
// provided it registered within the reconciliation window.
func (t *timeline) takeSigMatch(sig string, now time.Time, window time.Duration) (string, bool) {
	p, ok := t.sigs[sig]
	if !ok {
		return "", false
	}
	delete(t.sigs, sig)

	if now.Sub(p.at) > window {
		return "", false
	}
	return p.tempID, true
}

// dropSig forgets a pending signature once its send resolved over REST
func (t *timeline) dropSig(sig string) {
	delete(t.sigs, sig)
}

// snapshot returns a copy safe to hand outside the consumer loop
func (t *timeline) snapshot() []TimelineEntry {
	out := make([]TimelineEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entry := TimelineEntry{Pending: e.Pending, Failed: e.Failed, arrival: e.arrival}
		if e.Message != nil {
			m := *e.Message
			entry.Message = &m
		}
		if e.Notice != nil {
			n := *e.Notice
			entry.Notice = &n
		}
		out = append(out, entry)
	}
	return out
}

func (t *timeline) nextSeq() uint64 {
	t.seq++
	return t.seq
}

// contentSignature identifies a message by what the user sent, independent
// of the id space it currently lives in.
func contentSignature(msg domain.Message) string {
	h := sha256.New()
	h.Write([]byte(msg.SenderID))
	h.Write([]byte{0})
	h.Write([]byte(msg.ConversationID))
	h.Write([]byte{0})
	h.Write([]byte(msg.Text))
	h.Write([]byte{0})
	if msg.Attachment != nil {
		h.Write([]byte(msg.Attachment.URL))
	}
	return hex.EncodeToString(h.Sum(nil))
}
