package replay

import (
	"container/heap"

	"github.com/arkilian/taxistream/pkg/types"
)

type itemKind uint8

const (
	itemRide itemKind = iota
	itemWatermark
)

// scheduled is an entry of the emission schedule. at is the delayed event
// time in Unix milliseconds; seq breaks ties in insertion order.
type scheduled struct {
	at   int64
	seq  uint64
	kind itemKind
	ride types.RideEvent
}

type scheduleHeap []scheduled

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scheduleHeap) Push(x any) { *h = append(*h, x.(scheduled)) }

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = scheduled{}
	*h = old[:n-1]
	return item
}

// schedule orders pending rides and watermarks by emission time.
type schedule struct {
	h     scheduleHeap
	seq   uint64
	rides int
}

func (s *schedule) pushRide(at int64, ride types.RideEvent) {
	s.push(scheduled{at: at, kind: itemRide, ride: ride})
	s.rides++
}

func (s *schedule) pushWatermark(at int64) {
	s.push(scheduled{at: at, kind: itemWatermark})
}

func (s *schedule) push(item scheduled) {
	item.seq = s.seq
	s.seq++
	heap.Push(&s.h, item)
}

func (s *schedule) empty() bool { return len(s.h) == 0 }

func (s *schedule) peek() scheduled { return s.h[0] }

func (s *schedule) pop() scheduled {
	item := heap.Pop(&s.h).(scheduled)
	if item.kind == itemRide {
		s.rides--
	}
	return item
}

// pendingRides is the number of rides waiting in the schedule.
func (s *schedule) pendingRides() int { return s.rides }
