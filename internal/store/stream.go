package store

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ChangeType mirrors the three stream record kinds.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeModify ChangeType = "MODIFY"
	ChangeRemove ChangeType = "REMOVE"
)

// Change is one stream record. New is nil on remove, Old is nil on insert.
// Seq is a process-wide monotonic sequence number.
type Change struct {
	Type  ChangeType
	Table string
	Key   Key
	New   []byte
	Old   []byte
	Seq   uint64
}

const subscriberBuffer = 1024

type subscriber struct {
	table string
	ch    chan Change
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) cancel() {
	s.once.Do(func() { close(s.done) })
}

// streamHub fans committed changes out to table subscribers. Emission
// happens under the store's write lock, so subscribers observe changes in
// commit order.
type streamHub struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
	seq  uint64
}

func newStreamHub() *streamHub {
	return &streamHub{subs: make(map[string][]*subscriber)}
}

func (h *streamHub) subscribe(table string) (<-chan Change, func()) {
	sub := &subscriber{
		table: table,
		ch:    make(chan Change, subscriberBuffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[table] = append(h.subs[table], sub)
	h.mu.Unlock()

	cancel := func() {
		sub.cancel()
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[table]
		for i, s := range list {
			if s == sub {
				h.subs[table] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return sub.ch, cancel
}

func (h *streamHub) emit(c Change) {
	h.mu.Lock()
	h.seq++
	c.Seq = h.seq
	targets := make([]*subscriber, len(h.subs[c.Table]))
	copy(targets, h.subs[c.Table])
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case <-sub.done:
		case sub.ch <- c:
		default:
			// Emission runs under the store's write lock, so a slow
			// consumer must not stall writers. Dropped records are
			// recovered by the consumer's own sweep of the table.
			log.Warn().
				Str("table", c.Table).
				Uint64("seq", c.Seq).
				Msg("Change feed subscriber full, dropping record")
		}
	}
}
