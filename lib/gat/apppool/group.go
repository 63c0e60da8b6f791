package apppool

import (
	"gfx.cafe/gfx/appgat/lib/gat/apppool/restartfile"
	"gfx.cafe/gfx/appgat/lib/spawn"
	"gfx.cafe/gfx/appgat/lib/util/ring"
)

// Group is every process serving one app deployment, keyed by the group
// name (appGroupName, default appRoot). All fields are guarded by the pool
// lock.
type Group struct {
	Name string

	// options as of the most recent checkout
	options spawn.Options

	procs []*Process
	// idle lists processes with no live sessions; front is the least
	// recently used. Membership invariant: p is listed iff p.active == 0
	// and p is still in procs.
	idle   []*Process
	active int

	waiters ring.Ring[*waiter]

	oracle  *restartfile.Oracle
	watcher *restartfile.Watcher
	checked bool

	// spawning counts in-flight spawns for this group, fore- and background
	spawning int

	// bad: the last background spawn failed and the owner opted into silent
	// tolerance; no more spawns until an explicit restart marker
	bad        bool
	pendingErr error

	rolling bool
}

func (T *Group) count() int {
	return len(T.procs)
}

// instanceLimit combines the per-checkout cap with the pool-wide per-app
// default; the lower nonzero bound wins. 0 = unlimited.
func (T *Group) instanceLimit(maxPerApp int) int {
	limit := T.options.MaxInstances
	if maxPerApp > 0 && (limit == 0 || maxPerApp < limit) {
		limit = maxPerApp
	}
	return limit
}

// selectIdle picks the process a checkout should reuse: the sticky match if
// there is one, else the least recently used, ties broken by lower PID.
func (T *Group) selectIdle(stickyID string) *Process {
	if len(T.idle) == 0 {
		return nil
	}
	if stickyID != "" {
		for _, p := range T.idle {
			if p.stickyID == stickyID {
				return p
			}
		}
	}
	best := T.idle[0]
	for _, p := range T.idle[1:] {
		if p.lastUsed.Equal(best.lastUsed) && p.PID() < best.PID() {
			best = p
		}
	}
	return best
}

// needsRestart consults the oracle. The fsnotify watcher only gates the
// restart.txt mtime snapshot: a static always_restart.txt produces no
// events, so its presence is checked on every call.
func (T *Group) needsRestart() bool {
	if T.watcher != nil && T.checked && !T.watcher.TakeDirty() {
		return T.oracle.AlwaysRestart()
	}
	T.checked = true
	return T.oracle.Check()
}
