package engine

// unreadCounter tracks per-conversation unread counts. It is mutated only
// by the session's consumer loop; counts never go negative and are
// rebuildable from the server's unread summary.
type unreadCounter struct {
	counts map[string]int
}

func newUnreadCounter() *unreadCounter {
	return &unreadCounter{counts: make(map[string]int)}
}

func (u *unreadCounter) increment(conversationID string) {
	u.counts[conversationID]++
}

func (u *unreadCounter) decrement(conversationID string) {
	if u.counts[conversationID] > 0 {
		u.counts[conversationID]--
	}
	if u.counts[conversationID] == 0 {
		delete(u.counts, conversationID)
	}
}

func (u *unreadCounter) reset(conversationID string) {
	delete(u.counts, conversationID)
}

// replace rebuilds all counts from the authoritative server summary
func (u *unreadCounter) replace(summary map[string]int) {
	u.counts = make(map[string]int, len(summary))
	for conversationID, count := range summary {
		if count > 0 {
			u.counts[conversationID] = count
		}
	}
}

func (u *unreadCounter) get(conversationID string) int {
	return u.counts[conversationID]
}

func (u *unreadCounter) snapshot() map[string]int {
	out := make(map[string]int, len(u.counts))
	for conversationID, count := range u.counts {
		out[conversationID] = count
	}
	return out
}
