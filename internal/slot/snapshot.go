package slot

import "fmt"

// Snapshot is the persisted and replicated view of a slot.
type Snapshot struct {
	Index          int    `json:"slot" msgpack:"slot"`
	AbilityID      string `json:"ability,omitempty" msgpack:"ability"`
	State          string `json:"state" msgpack:"state"`
	TicksRemaining uint32 `json:"ticks" msgpack:"ticks"`
	Seq            uint64 `json:"seq" msgpack:"seq"`
	Version        uint64 `json:"version" msgpack:"version"`
}

// Snapshot captures the slot's timing state.
func (s *Slot) Snapshot() Snapshot {
	return Snapshot{
		Index:          s.index,
		AbilityID:      s.ability,
		State:          s.State().String(),
		TicksRemaining: s.ticks,
		Seq:            s.seq,
		Version:        s.version,
	}
}

// Restore resumes a persisted snapshot mid-state. The restored slot is
// marked dirty so observers receive it.
func (s *Slot) Restore(snap Snapshot) error {
	if err := s.load(snap); err != nil {
		return err
	}
	if snap.Version > s.version {
		s.version = snap.Version
	}
	s.touch()
	return nil
}

// ApplySync overwrites the slot with a replicated snapshot when it is newer
// than the last sync applied. Stale syncs are ignored. Local mirror
// transitions do not count against the authority's version.
func (s *Slot) ApplySync(snap Snapshot) (bool, error) {
	if snap.Version <= s.synced {
		return false, nil
	}
	if err := s.load(snap); err != nil {
		return false, err
	}
	s.synced = snap.Version
	s.version = max(s.version, snap.Version)
	return true, nil
}

// SyncedVersion returns the authority version of the last applied sync.
func (s *Slot) SyncedVersion() uint64 { return s.synced }

func (s *Slot) load(snap Snapshot) error {
	state, ok := ParseState(snap.State)
	if !ok {
		return fmt.Errorf("slot %s/%d: unknown state %q", s.actorID, s.index, snap.State)
	}
	if snap.Index != s.index {
		return fmt.Errorf("slot %s/%d: snapshot belongs to slot %d", s.actorID, s.index, snap.Index)
	}
	if state != Idle && snap.AbilityID == "" {
		return fmt.Errorf("slot %s/%d: %s without ability", s.actorID, s.index, state)
	}
	s.ability = snap.AbilityID
	s.machine.SetState(state.String())
	s.ticks = snap.TicksRemaining
	if state == Idle {
		s.ticks = 0
	}
	s.seq = snap.Seq
	s.lastPayload = nil
	return nil
}
