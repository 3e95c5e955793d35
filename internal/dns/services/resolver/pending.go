package resolver

import (
	"net"
	"time"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

// pendingQuery tracks one forwarded question awaiting an upstream answer.
type pendingQuery struct {
	upstreamID uint16
	clientAddr net.Addr
	clientID   uint16
	question   domain.Question
	request    domain.Message // original client message, for response echo
	serverIdx  int            // index of the upstream currently queried
	attempt    int            // total sends so far
	deadline   time.Time
}

// pendingTable owns the in-flight forwarded queries, keyed by the locally
// generated upstream transaction id. It is used by a single goroutine.
type pendingTable struct {
	entries  map[uint16]*pendingQuery
	capacity int
	nextID   uint16
}

// maxPendingCapacity is the id space: a uint16 transaction id can key at
// most 65535 live entries while leaving one id free for the next allocate.
const maxPendingCapacity = 65535

func newPendingTable(capacity int) *pendingTable {
	if capacity > maxPendingCapacity {
		capacity = maxPendingCapacity
	}
	return &pendingTable{
		entries:  make(map[uint16]*pendingQuery),
		capacity: capacity,
	}
}

func (t *pendingTable) full() bool {
	return len(t.entries) >= t.capacity
}

// allocate reserves a free transaction id for the query and inserts it.
// Returns false when the table is at capacity.
func (t *pendingTable) allocate(q *pendingQuery) bool {
	if t.full() {
		return false
	}
	// wrapping scan; capacity is clamped below the id space so a free id
	// always exists
	for {
		t.nextID++
		if _, taken := t.entries[t.nextID]; !taken {
			break
		}
	}
	q.upstreamID = t.nextID
	t.entries[q.upstreamID] = q
	return true
}

// match returns the query awaiting the given id, if the answer came from the
// server it was sent to. Answers from other addresses do not match.
func (t *pendingTable) match(id uint16, from net.Addr, servers []net.Addr) (*pendingQuery, bool) {
	q, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	if q.serverIdx >= len(servers) || servers[q.serverIdx].String() != from.String() {
		return nil, false
	}
	return q, true
}

func (t *pendingTable) remove(id uint16) {
	delete(t.entries, id)
}

// expired returns the queries whose deadline has passed.
func (t *pendingTable) expired(now time.Time) []*pendingQuery {
	var out []*pendingQuery
	for _, q := range t.entries {
		if !now.Before(q.deadline) {
			out = append(out, q)
		}
	}
	return out
}

// nextDeadline returns the earliest outstanding deadline.
func (t *pendingTable) nextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, q := range t.entries {
		if !found || q.deadline.Before(next) {
			next = q.deadline
			found = true
		}
	}
	return next, found
}

func (t *pendingTable) len() int {
	return len(t.entries)
}
