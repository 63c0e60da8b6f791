package apppool

import (
	"gfx.cafe/gfx/appgat/lib/spawn"
)

// waiter is one blocked checkout. ready receives at most one value: a
// process checked out on the waiter's behalf, or nil to retry admission.
type waiter struct {
	group   *Group
	options spawn.Options
	ready   chan *Process
}

func (T *Pool) newWaiter(group *Group, options spawn.Options) *waiter {
	ready, _ := T.waiterChans.Get()
	if ready == nil {
		ready = make(chan *Process, 1)
	}
	return &waiter{
		group:   group,
		options: options,
		ready:   ready,
	}
}
