package journal

import (
	"sort"
	"sync"

	"github.com/xyzzy121/Unicopia/internal/telemetry"
)

// Key identifies one replicated stream: a single equip slot of one actor.
type Key struct {
	ActorID string
	Slot    int
}

// Verdict classifies a received sequence number.
type Verdict uint8

const (
	// Accept means the frame is the next one in the stream.
	Accept Verdict = iota
	// Duplicate means the frame was already applied and must be dropped.
	Duplicate
	// Gap means one or more frames were lost. The frame is applied and a
	// resync is requested.
	Gap
	// Retired means the actor was removed recently and late frames are
	// dropped.
	Retired
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Duplicate:
		return "duplicate"
	case Gap:
		return "gap"
	case Retired:
		return "retired"
	default:
		return "unknown"
	}
}

const (
	metricJournalDuplicate = "journal_duplicate_delivery"
	metricJournalGap       = "journal_sequence_gap"
	metricJournalRetired   = "journal_delivery_after_retire"
)

// retireWindowTicks bounds how long a removed actor's frames are refused.
const retireWindowTicks = 200

// Journal owns the per-stream activation sequence cursors. The authority
// draws sequence numbers from it; observers check arrivals against it so
// every activation is applied at most once.
type Journal struct {
	mu        sync.Mutex
	cursors   map[Key]uint64
	retired   map[string]uint64
	telemetry telemetry.Metrics
	resync    *Policy
}

// New constructs an empty journal with a resync policy attached.
func New() *Journal {
	return &Journal{
		cursors: make(map[Key]uint64),
		retired: make(map[string]uint64),
		resync:  NewPolicy(),
	}
}

// AttachTelemetry routes drop counters to metrics.
func (j *Journal) AttachTelemetry(metrics telemetry.Metrics) {
	j.mu.Lock()
	j.telemetry = metrics
	j.mu.Unlock()
}

// Next advances and returns the authority's sequence for key.
func (j *Journal) Next(key Key) uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.retired, key.ActorID)
	next := j.cursors[key] + 1
	j.cursors[key] = next
	return next
}

// Observe checks a received sequence number against the cursor for key and
// advances the cursor when the frame should be applied.
func (j *Journal) Observe(key Key, seq uint64, tick uint64) Verdict {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resync.NoteEvent()

	j.pruneRetiredLocked(tick)
	if _, retired := j.retired[key.ActorID]; retired {
		j.recordDropLocked(metricJournalRetired)
		return Retired
	}

	last := j.cursors[key]
	switch {
	case seq <= last:
		j.recordDropLocked(metricJournalDuplicate)
		return Duplicate
	case seq == last+1:
		j.cursors[key] = seq
		return Accept
	default:
		j.cursors[key] = seq
		j.recordDropLocked(metricJournalGap)
		j.resync.NoteLoss(metricJournalGap, key, seq-last-1)
		return Gap
	}
}

// Cursor returns the last sequence recorded for key.
func (j *Journal) Cursor(key Key) (uint64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	seq, ok := j.cursors[key]
	return seq, ok
}

// Reset moves the cursor for key to seq. Resync frames and restored saves
// use it; the cursor never moves backwards.
func (j *Journal) Reset(key Key, seq uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.retired, key.ActorID)
	if current, ok := j.cursors[key]; ok && current > seq {
		return
	}
	j.cursors[key] = seq
}

// Retire forgets every cursor of the actor and refuses its frames for a
// short window so late deliveries do not resurrect it.
func (j *Journal) Retire(actorID string, tick uint64) {
	if actorID == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for key := range j.cursors {
		if key.ActorID == actorID {
			delete(j.cursors, key)
		}
	}
	j.retired[actorID] = tick
}

// Unretire lifts the retire window for an actor that is present again.
func (j *Journal) Unretire(actorID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.retired, actorID)
}

// Cursors lists the slot cursors recorded for actorID in slot order.
func (j *Journal) Cursors(actorID string) []Cursor {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Cursor
	for key, seq := range j.cursors {
		if key.ActorID == actorID {
			out = append(out, Cursor{Slot: key.Slot, Seq: seq})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Slot < out[b].Slot })
	return out
}

// Cursor is one slot's last sequence number.
type Cursor struct {
	Slot int
	Seq  uint64
}

// ConsumeResyncHint reports whether lost frames warrant a resync. Counters
// reset after each consumption.
func (j *Journal) ConsumeResyncHint() (ResyncSignal, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resync.Consume()
}

func (j *Journal) pruneRetiredLocked(current uint64) {
	if len(j.retired) == 0 {
		return
	}
	for id, tick := range j.retired {
		if current >= tick+retireWindowTicks {
			delete(j.retired, id)
		}
	}
}

func (j *Journal) recordDropLocked(metric string) {
	if j.telemetry == nil {
		return
	}
	j.telemetry.Add(metric, 1)
}
