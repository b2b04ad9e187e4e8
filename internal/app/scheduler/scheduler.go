package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

var ErrNotInFuture = errors.New("eligible time must be in the future")

// Scheduler is a priority queue of cooling accounts ordered by eligible time.
// An account appears at most once; rescheduling replaces its entry.
type Scheduler struct {
	entries cooldownHeap
	index   map[string]*item
	seq     uint64
	now     func() time.Time
}

type item struct {
	entry model.CooldownEntry
	pos   int
	seq   uint64
}

type cooldownHeap []*item

func (h cooldownHeap) Len() int { return len(h) }

func (h cooldownHeap) Less(i, j int) bool {
	if h[i].entry.EligibleAt.Equal(h[j].entry.EligibleAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].entry.EligibleAt.Before(h[j].entry.EligibleAt)
}

func (h cooldownHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *cooldownHeap) Push(x any) {
	it := x.(*item)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *cooldownHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.pos = -1
	*h = old[:n-1]
	return it
}

func New(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{index: make(map[string]*item), now: now}
}

// Schedule puts id in cooldown until at.
func (s *Scheduler) Schedule(id string, at time.Time, reason model.CooldownReason) error {
	if !at.After(s.now()) {
		return fmt.Errorf("%w: %s at %s", ErrNotInFuture, id, at.Format(time.RFC3339Nano))
	}
	s.seq++
	entry := model.CooldownEntry{AccountID: id, EligibleAt: at, Reason: reason}
	if it, ok := s.index[id]; ok {
		it.entry = entry
		it.seq = s.seq
		heap.Fix(&s.entries, it.pos)
		return nil
	}
	it := &item{entry: entry, seq: s.seq}
	heap.Push(&s.entries, it)
	s.index[id] = it
	return nil
}

// Ready pops every entry whose eligible time has passed, earliest first.
func (s *Scheduler) Ready(now time.Time) []model.CooldownEntry {
	var out []model.CooldownEntry
	for s.entries.Len() > 0 {
		top := s.entries[0]
		if top.entry.EligibleAt.After(now) {
			break
		}
		heap.Pop(&s.entries)
		delete(s.index, top.entry.AccountID)
		out = append(out, top.entry)
	}
	return out
}

func (s *Scheduler) IsCooling(id string, now time.Time) bool {
	it, ok := s.index[id]
	return ok && it.entry.EligibleAt.After(now)
}

// Next returns the earliest entry without removing it.
func (s *Scheduler) Next() (model.CooldownEntry, bool) {
	if s.entries.Len() == 0 {
		return model.CooldownEntry{}, false
	}
	return s.entries[0].entry, true
}

func (s *Scheduler) Get(id string) (model.CooldownEntry, bool) {
	it, ok := s.index[id]
	if !ok {
		return model.CooldownEntry{}, false
	}
	return it.entry, true
}

func (s *Scheduler) Remove(id string) bool {
	it, ok := s.index[id]
	if !ok {
		return false
	}
	heap.Remove(&s.entries, it.pos)
	delete(s.index, id)
	return true
}

func (s *Scheduler) Len() int { return s.entries.Len() }
