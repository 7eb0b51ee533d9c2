package journal

import (
	"fmt"
)

type ResyncReason struct {
	Kind    string
	ActorID string
	Slot    int
	Missing uint64
}

type ResyncSignal struct {
	LostFrames  uint64
	TotalEvents uint64
	Reasons     []ResyncReason
}

// Policy decides when lost activation frames warrant a full resync.
type Policy struct {
	totalEvents uint64
	lostFrames  uint64
	pending     bool
	reasons     []ResyncReason
}

const lostFrameThresholdPerTenThousand = 1
const resyncReasonLimit = 8

func NewPolicy() *Policy {
	return &Policy{reasons: make([]ResyncReason, 0, resyncReasonLimit)}
}

func (p *Policy) NoteEvent() {
	if p == nil {
		return
	}
	if p.totalEvents == ^uint64(0) {
		p.totalEvents = p.totalEvents / 2
		p.lostFrames = p.lostFrames / 2
	}
	p.totalEvents++
}

func (p *Policy) NoteLoss(kind string, key Key, missing uint64) {
	if p == nil {
		return
	}
	if missing == 0 {
		missing = 1
	}
	p.lostFrames += missing
	if len(p.reasons) < resyncReasonLimit {
		p.reasons = append(p.reasons, ResyncReason{Kind: kind, ActorID: key.ActorID, Slot: key.Slot, Missing: missing})
	}
	p.evaluate()
}

func (p *Policy) evaluate() {
	if p == nil || p.pending || p.lostFrames == 0 {
		return
	}
	total := p.totalEvents
	if total == 0 {
		total = 1
	}
	if p.lostFrames*10000 >= total*lostFrameThresholdPerTenThousand {
		p.pending = true
	}
}

func (p *Policy) Consume() (ResyncSignal, bool) {
	if p == nil || !p.pending {
		return ResyncSignal{}, false
	}
	signal := ResyncSignal{
		LostFrames:  p.lostFrames,
		TotalEvents: p.totalEvents,
		Reasons:     append([]ResyncReason(nil), p.reasons...),
	}
	p.pending = false
	p.totalEvents = 0
	p.lostFrames = 0
	if len(p.reasons) > 0 {
		p.reasons = p.reasons[:0]
	}
	return signal, true
}

// Actors lists the distinct actors named by the signal's reasons.
func (s ResyncSignal) Actors() []string {
	seen := make(map[string]struct{}, len(s.Reasons))
	var out []string
	for _, reason := range s.Reasons {
		if _, ok := seen[reason.ActorID]; ok {
			continue
		}
		seen[reason.ActorID] = struct{}{}
		out = append(out, reason.ActorID)
	}
	return out
}

func (s ResyncSignal) Summary() string {
	if s.LostFrames == 0 && s.TotalEvents == 0 {
		return ""
	}
	return fmt.Sprintf("lost_frames=%d total_events=%d reasons=%v", s.LostFrames, s.TotalEvents, s.Reasons)
}
