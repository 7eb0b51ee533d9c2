package hub

import (
	"sync"
	"sync/atomic"
)

// Message is one outbound payload for a subscriber. Replication frames are
// binary; acknowledgements and rejections are JSON text.
type Message struct {
	Binary bool
	Data   []byte
}

// Subscriber receives the hub's outbound traffic through a bounded buffer.
// Slow subscribers lose messages rather than stall the simulation.
type Subscriber struct {
	id      string
	actorID string
	out     chan Message
	done    chan struct{}
	once    sync.Once

	dropped        atomic.Uint64
	lastCommandSeq atomic.Uint64
}

func newSubscriber(id, actorID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Subscriber{
		id:      id,
		actorID: actorID,
		out:     make(chan Message, buffer),
		done:    make(chan struct{}),
	}
}

func (s *Subscriber) ID() string { return s.id }

// ActorID is the actor the subscriber controls, empty for replication peers.
func (s *Subscriber) ActorID() string { return s.actorID }

func (s *Subscriber) Messages() <-chan Message { return s.out }

// Done is closed when the hub drops the subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// LastCommandSeq reports the highest client sequence acknowledged.
func (s *Subscriber) LastCommandSeq() uint64 { return s.lastCommandSeq.Load() }

func (s *Subscriber) StoreLastCommandSeq(seq uint64) {
	for {
		current := s.lastCommandSeq.Load()
		if seq <= current || s.lastCommandSeq.CompareAndSwap(current, seq) {
			return
		}
	}
}

func (s *Subscriber) offer(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}
