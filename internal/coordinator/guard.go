package coordinator

import (
	"fmt"

	"github.com/xyzzy121/Unicopia/abilities/contract"
	abilitylog "github.com/xyzzy121/Unicopia/logging/abilities"
)

// guard runs a descriptor hook and recovers a panic into a hook_panic
// event. It reports whether the hook returned normally.
func (c *Coordinator) guard(actorID, abilityID, hook string, fn func()) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.hookPanic(actorID, abilityID, hook, recovered)
			ok = false
		}
	}()
	fn()
	return true
}

// applyHooks runs PreApply, Apply and PostApply in order, stopping at the
// first panic. Hooks that already ran are not rolled back: bookkeeping done
// in PreApply stays, while the caller aborts the slot without cooldown and
// sends nothing.
func (c *Coordinator) applyHooks(actor contract.Actor, desc contract.Descriptor, ref contract.SlotRef, payload contract.Payload) bool {
	actorID := actor.ID()
	if !c.guard(actorID, desc.ID, "pre_apply", func() { desc.RunPreApply(actor, ref) }) {
		return false
	}
	if !c.guard(actorID, desc.ID, "apply", func() { desc.Apply(actor, payload) }) {
		return false
	}
	return c.guard(actorID, desc.ID, "post_apply", func() { desc.RunPostApply(actor, ref) })
}

func (c *Coordinator) hookPanic(actorID, abilityID, hook string, recovered any) {
	if c.logger != nil {
		c.logger.Printf("[coordinator] recovered panic in %s hook for %s/%s: %v", hook, actorID, abilityID, recovered)
	}
	abilitylog.HookPanic(c.ctx(), c.pub, c.tick, actorID, abilitylog.HookPanicPayload{
		Ability: abilityID,
		Hook:    hook,
		Value:   fmt.Sprint(recovered),
	})
}
