package apppool

import (
	"net"
	"time"

	"github.com/google/uuid"

	"gfx.cafe/gfx/appgat/lib/spawn"
)

// Process is the pool's handle to one spawned worker. There is exactly one
// Process per OS process. All mutable fields are guarded by the pool lock;
// Sessions hold the Process pointer past removal, so a removed Process stays
// valid until its last session closes.
type Process struct {
	ID        uuid.UUID
	DetachKey string

	worker spawn.Worker
	group  *Group

	active    int
	requests  int
	lastUsed  time.Time
	spawnedAt time.Time
	stickyID  string

	// retiring: finish current sessions, then quit (maxRequests reached)
	retiring bool
	// removed: no longer listed in its group
	removed bool
	// defunct: the OS process is gone
	defunct bool
}

func newProcess(group *Group, worker spawn.Worker) *Process {
	now := time.Now()
	return &Process{
		ID:        uuid.New(),
		DetachKey: uuid.NewString(),
		worker:    worker,
		group:     group,
		lastUsed:  now,
		spawnedAt: now,
	}
}

func (T *Process) PID() int {
	return T.worker.PID()
}

// checkout is called under the pool lock when a session is handed out.
func (T *Process) checkout(maxRequests int) {
	T.active++
	T.requests++
	T.lastUsed = time.Now()
	if maxRequests > 0 && T.requests >= maxRequests {
		T.retiring = true
	}
}

// alive performs the non-blocking liveness probe.
func (T *Process) alive() bool {
	if T.defunct {
		return false
	}
	if !T.worker.Alive() {
		T.defunct = true
		return false
	}
	return true
}

// connect opens a fresh stream to the worker's session socket. Dialing may
// block; never call with the pool lock held.
func (T *Process) connect() (net.Conn, error) {
	sock := T.worker.SessionSocket()
	return net.Dial(sock.Network, sock.Address)
}
