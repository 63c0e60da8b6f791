package apppool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gfx.cafe/gfx/appgat/lib/gat/apppool/restartfile"
	"gfx.cafe/gfx/appgat/lib/instrumentation/prom"
	"gfx.cafe/gfx/appgat/lib/spawn"
	"gfx.cafe/gfx/appgat/lib/util/pools"
	"gfx.cafe/gfx/appgat/lib/util/ring"
	"gfx.cafe/gfx/appgat/lib/util/slices"
)

// how long a retired worker gets to finish up before it is killed
const killGrace = 5 * time.Second

// Pool multiplexes request sessions over a managed fleet of worker
// processes. One mutex guards the aggregate state and every group; it is
// dropped across spawner calls and while waiters sleep.
type Pool struct {
	spawner spawn.Spawner
	log     *zap.Logger

	groups map[string]*Group

	// fleet-wide counters: count = Σ group count, active = Σ group active,
	// spawning = in-flight spawns reserving slots
	count    int
	active   int
	spawning int

	max         int
	maxPerApp   int
	maxIdleTime time.Duration

	globalWaiters ring.Ring[*waiter]

	watchRestartDirs bool

	waiterChans pools.Locked[chan *Process]

	closed bool
	done   chan struct{}

	mu sync.Mutex
}

func NewPool(config Config) *Pool {
	if config.Max <= 0 {
		config.Max = DefaultMax
	}
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = DefaultMaxIdleTime
	}
	if config.CleanInterval <= 0 {
		config.CleanInterval = DefaultCleanInterval
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	T := &Pool{
		spawner:          config.Spawner,
		log:              config.Logger,
		max:              config.Max,
		maxPerApp:        config.MaxPerApp,
		maxIdleTime:      config.MaxIdleTime,
		watchRestartDirs: config.WatchRestartDirs,
		done:             make(chan struct{}),
	}

	go T.cleanLoop(config.CleanInterval)

	return T
}

// Get blocks until a session for options is available or a fatal error
// occurs. Callers impose timeouts through ctx.
func (T *Pool) Get(ctx context.Context, options spawn.Options) (*Session, error) {
	start := time.Now()
	for {
		proc, err := T.acquire(ctx, options)
		if err != nil {
			return nil, err
		}

		conn, err := proc.connect()
		if err != nil {
			// the worker died under us; drop it and try again
			T.discard(proc)
			continue
		}

		prom.Operation.Acquire(prom.OperationLabels{Group: options.GroupName()}).
			Observe(float64(time.Since(start)) / float64(time.Millisecond))

		return &Session{proc: proc, pool: T, conn: conn}, nil
	}
}

// acquire runs admission until a process is checked out for the caller.
func (T *Pool) acquire(ctx context.Context, options spawn.Options) (*Process, error) {
	name := options.GroupName()
	for {
		T.mu.Lock()
		if T.closed {
			T.mu.Unlock()
			return nil, ErrPoolClosed
		}

		g := T.group(name, options)

		// a background spawn failure without ignoreSpawnErrors surfaces on
		// the next checkout for the group
		if err := g.pendingErr; err != nil {
			g.pendingErr = nil
			T.mu.Unlock()
			return nil, err
		}

		if g.needsRestart() {
			T.restart(g, options)
		}

		// reuse an idle process when there is one. a bad group still
		// reuses; it only stops spawning.
		if p := g.selectIdle(options.StickySessionID); p != nil {
			if !p.alive() {
				T.remove(g, p)
				T.capacityFreed()
				T.mu.Unlock()
				continue
			}
			T.checkout(g, p, options)
			T.fill(g, options)
			T.mu.Unlock()
			return p, nil
		}

		limit := g.instanceLimit(T.maxPerApp)
		canSpawn := !g.bad && (limit == 0 || g.count()+g.spawning < limit)
		if canSpawn && (T.count+T.spawning < T.max || T.evictFor(g)) {
			// spawn synchronously, dropping the lock for the duration
			g.spawning++
			T.spawning++
			T.mu.Unlock()

			worker, err := T.spawn(ctx, options)

			T.mu.Lock()
			g.spawning--
			T.spawning--
			if err != nil {
				// the group is unchanged
				T.mu.Unlock()
				return nil, err
			}
			// the pool may have changed shape while unlocked; enroll the
			// worker regardless and hand it to this caller
			p := T.enroll(g, worker)
			T.checkout(g, p, options)
			T.fill(g, options)
			T.mu.Unlock()
			return p, nil
		}

		// all slots taken: queue up
		w := T.newWaiter(g, options)
		if options.UseGlobalQueue {
			T.globalWaiters.PushBack(w)
		} else {
			g.waiters.PushBack(w)
		}
		T.mu.Unlock()

		p, err := T.wait(ctx, w, options.UseGlobalQueue)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
		// woken without an assignment: retry admission
	}
}

// group returns the group for name, creating and priming it on first use
// and recording the latest options.
func (T *Pool) group(name string, options spawn.Options) *Group {
	g, ok := T.groups[name]
	if !ok {
		g = &Group{
			Name:   name,
			oracle: restartfile.NewOracle(options.AppRoot, options.RestartDir),
		}
		// a marker predating the group is not a trigger
		g.oracle.Prime()
		T.watch(g)
		if T.groups == nil {
			T.groups = make(map[string]*Group)
		}
		T.groups[name] = g
	}
	g.options = options

	// the restart dir may move between checkouts. The fresh oracle is NOT
	// primed: a marker in the new dir has not been honored yet.
	if dir := restartfile.Resolve(options.AppRoot, options.RestartDir); dir != g.oracle.Dir() {
		g.oracle = restartfile.NewOracle(options.AppRoot, options.RestartDir)
		if g.watcher != nil {
			_ = g.watcher.Close()
			g.watcher = nil
		}
		g.checked = false
		T.watch(g)
	}

	return g
}

func (T *Pool) watch(g *Group) {
	if !T.watchRestartDirs {
		return
	}
	w, err := restartfile.NewWatcher(g.oracle.Dir(), T.log)
	if err != nil {
		T.log.Debug("cannot watch restart dir",
			zap.String("dir", g.oracle.Dir()), zap.Error(err))
		return
	}
	g.watcher = w
}

// restart reacts to a triggered restart marker: reload the spawner's caches,
// then either retire everything now or roll processes over one by one.
func (T *Pool) restart(g *Group, options spawn.Options) {
	T.spawner.Reload(options.AppRoot)

	// an explicit restart clears the bad-group hysteresis
	g.bad = false
	g.pendingErr = nil

	if options.RollingRestart && len(g.procs) > 0 {
		if !g.rolling {
			g.rolling = true
			victims := make([]*Process, len(g.procs))
			copy(victims, g.procs)
			go T.roll(g, options, victims)
		}
		return
	}

	for len(g.procs) > 0 {
		T.remove(g, g.procs[0])
	}
}

// roll replaces victims one at a time: spawn a replacement, and only once it
// is ready retire one old process. Old processes keep serving meanwhile.
func (T *Pool) roll(g *Group, options spawn.Options, victims []*Process) {
	defer func() {
		T.mu.Lock()
		g.rolling = false
		T.collect(g)
		T.mu.Unlock()
	}()

	for _, victim := range victims {
		T.mu.Lock()
		if T.closed {
			T.mu.Unlock()
			return
		}
		if victim.removed {
			T.mu.Unlock()
			continue
		}
		g.spawning++
		T.spawning++
		T.mu.Unlock()

		worker, err := T.spawn(context.Background(), options)

		T.mu.Lock()
		g.spawning--
		T.spawning--
		if err != nil {
			// stop the rollout, leave the old processes alive
			if options.IgnoreSpawnErrors {
				g.bad = true
				T.logSpawnErr(options, err)
			} else {
				g.pendingErr = err
			}
			T.mu.Unlock()
			return
		}
		p := T.enroll(g, worker)
		T.remove(g, victim)
		T.offer(g, p)
		T.mu.Unlock()
	}
}

func (T *Pool) spawn(ctx context.Context, options spawn.Options) (spawn.Worker, error) {
	start := time.Now()
	worker, err := T.spawner.Spawn(ctx, options)
	if err != nil {
		return nil, &spawn.Error{AppRoot: options.AppRoot, Err: err}
	}
	prom.Operation.Spawn(prom.OperationLabels{Group: options.GroupName()}).
		Observe(float64(time.Since(start)) / float64(time.Millisecond))
	return worker, nil
}

// fill schedules background spawns until MinProcesses is met, subject to the
// group and fleet caps.
func (T *Pool) fill(g *Group, options spawn.Options) {
	target := options.MinProcesses
	if limit := g.instanceLimit(T.maxPerApp); limit != 0 && target > limit {
		target = limit
	}
	for !g.bad && g.count()+g.spawning < target && T.count+T.spawning < T.max {
		T.spawnBackground(g, options)
	}
}

func (T *Pool) spawnBackground(g *Group, options spawn.Options) {
	g.spawning++
	T.spawning++
	go func() {
		worker, err := T.spawn(context.Background(), options)

		T.mu.Lock()
		defer T.mu.Unlock()
		g.spawning--
		T.spawning--

		if err != nil {
			if options.IgnoreSpawnErrors {
				g.bad = true
				T.logSpawnErr(options, err)
			} else {
				g.pendingErr = err
			}
			T.collect(g)
			return
		}

		if T.closed {
			go terminateWorker(worker)
			return
		}

		p := T.enroll(g, worker)
		T.offer(g, p)
	}()
}

func (T *Pool) logSpawnErr(options spawn.Options, err error) {
	if options.PrintExceptions {
		T.log.Error("background spawn failed",
			zap.String("app_root", options.AppRoot), zap.Error(err))
	} else {
		T.log.Debug("background spawn failed",
			zap.String("app_root", options.AppRoot), zap.Error(err))
	}
}

// enroll adds a fresh worker to g as an idle process.
func (T *Pool) enroll(g *Group, worker spawn.Worker) *Process {
	p := newProcess(g, worker)
	g.procs = append(g.procs, p)
	g.idle = append(g.idle, p)
	T.count++

	labels := prom.PoolLabels{Group: g.Name}
	prom.Pool.Spawned(labels).Inc()
	prom.Pool.Processes(labels).Inc()

	return p
}

// checkout hands p out for one session.
func (T *Pool) checkout(g *Group, p *Process, options spawn.Options) {
	g.idle = slices.Remove(g.idle, p)
	p.checkout(options.MaxRequests)
	g.active++
	T.active++
	prom.Pool.Active(prom.PoolLabels{Group: g.Name}).Inc()
}

// remove unlists p from its group. Busy processes keep serving their
// sessions and are terminated on the last release.
func (T *Pool) remove(g *Group, p *Process) {
	if p.removed {
		return
	}
	p.removed = true
	g.procs = slices.Remove(g.procs, p)
	g.idle = slices.Remove(g.idle, p)
	T.count--

	labels := prom.PoolLabels{Group: g.Name}
	prom.Pool.Retired(labels).Inc()
	prom.Pool.Processes(labels).Dec()

	if p.active > 0 {
		g.active -= p.active
		T.active -= p.active
		prom.Pool.Active(labels).Sub(float64(p.active))
	} else {
		T.terminate(p)
	}
}

// terminate stops the worker behind p: ask first, force if it lingers.
func (T *Pool) terminate(p *Process) {
	go terminateWorker(p.worker)
}

func terminateWorker(worker spawn.Worker) {
	_ = worker.Terminate()
	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	<-timer.C
	if worker.Alive() {
		_ = worker.Kill()
	}
}

// releaseProcess returns p after a session closed.
func (T *Pool) releaseProcess(p *Process) {
	T.mu.Lock()
	defer T.mu.Unlock()

	g := p.group
	p.active--
	p.lastUsed = time.Now()
	if !p.removed {
		g.active--
		T.active--
		prom.Pool.Active(prom.PoolLabels{Group: g.Name}).Dec()
	}

	if p.removed {
		if p.active == 0 {
			T.terminate(p)
		}
		return
	}

	if p.retiring || !p.alive() {
		T.remove(g, p)
		T.capacityFreed()
		T.collect(g)
		return
	}

	g.idle = append(g.idle, p)
	T.released(g, p)
}

// released applies the wake policy after p went idle in g: the global queue
// head goes first, then g's own queue, then any group whose head waiter can
// now proceed by evicting p.
func (T *Pool) released(g *Group, p *Process) {
	if T.globalWaiters.Length() > 0 {
		w := T.globalWaiters.Get(0)
		if w.group == g {
			T.globalWaiters.PopFront()
			T.checkout(g, p, w.options)
			w.ready <- p
			return
		}
		T.trySpawnFor(w.group, w.options)
		if p.removed {
			return
		}
	}

	if w, ok := g.waiters.PopFront(); ok {
		T.checkout(g, p, w.options)
		w.ready <- p
		return
	}

	for _, og := range T.groups {
		if og == g || og.waiters.Length() == 0 {
			continue
		}
		w := og.waiters.Get(0)
		if T.trySpawnFor(og, w.options) {
			return
		}
		if p.removed {
			return
		}
	}
}

// offer hands a fresh idle process to the longest blocked waiter that can
// use it. A waiter already blocked wins over a checkout arriving later.
func (T *Pool) offer(g *Group, p *Process) {
	if w, ok := g.waiters.PopFront(); ok {
		T.checkout(g, p, w.options)
		w.ready <- p
		return
	}
	if T.globalWaiters.Length() > 0 {
		w := T.globalWaiters.Get(0)
		if w.group == g {
			T.globalWaiters.PopFront()
			T.checkout(g, p, w.options)
			w.ready <- p
		}
	}
}

// trySpawnFor starts a background spawn on behalf of a queued waiter,
// evicting an idle process from another group when the fleet is full.
func (T *Pool) trySpawnFor(g *Group, options spawn.Options) bool {
	if g.bad || g.spawning > 0 {
		return false
	}
	if limit := g.instanceLimit(T.maxPerApp); limit != 0 && g.count()+g.spawning >= limit {
		return false
	}
	if T.count+T.spawning >= T.max && !T.evictFor(g) {
		return false
	}
	T.spawnBackground(g, options)
	return true
}

// evictFor frees one fleet slot for g by retiring an idle process elsewhere.
func (T *Pool) evictFor(g *Group) bool {
	victim := evictVictim(T.groups, g)
	if victim == nil {
		return false
	}
	vg := victim.group
	T.remove(vg, victim)
	T.collect(vg)
	return true
}

// capacityFreed starts a spawn for the longest blocked waiter after a fleet
// slot opened up without a process to hand over.
func (T *Pool) capacityFreed() {
	if T.globalWaiters.Length() > 0 {
		w := T.globalWaiters.Get(0)
		T.trySpawnFor(w.group, w.options)
		return
	}
	for _, g := range T.groups {
		if g.waiters.Length() == 0 {
			continue
		}
		w := g.waiters.Get(0)
		if T.trySpawnFor(g, w.options) {
			return
		}
	}
}

// discard drops a process whose session socket could not be opened.
func (T *Pool) discard(p *Process) {
	T.mu.Lock()
	defer T.mu.Unlock()

	g := p.group
	p.defunct = true
	p.active--
	if !p.removed {
		g.active--
		T.active--
		prom.Pool.Active(prom.PoolLabels{Group: g.Name}).Dec()
		T.remove(g, p)
		T.capacityFreed()
		T.collect(g)
	} else if p.active == 0 {
		T.terminate(p)
	}
}

func (T *Pool) wait(ctx context.Context, w *waiter, global bool) (*Process, error) {
	select {
	case p := <-w.ready:
		T.waiterChans.Put(w.ready)
		return p, nil
	case <-ctx.Done():
		return nil, T.cancelWaiter(w, global, ctx.Err())
	case <-T.done:
		return nil, T.cancelWaiter(w, global, ErrPoolClosed)
	}
}

// cancelWaiter unlinks w from its queue. If a wake committed first, the
// checked-out process goes back to the pool.
func (T *Pool) cancelWaiter(w *waiter, global bool, err error) error {
	T.mu.Lock()
	q := &w.group.waiters
	if global {
		q = &T.globalWaiters
	}
	var found bool
	n := q.Length()
	for i := 0; i < n; i++ {
		ww, _ := q.PopFront()
		if ww == w {
			found = true
			// keep rotating so the others stay in order
		} else {
			q.PushBack(ww)
		}
	}
	T.mu.Unlock()

	if found {
		T.waiterChans.Put(w.ready)
		return err
	}

	// lost the race: the wake already committed
	p := <-w.ready
	T.waiterChans.Put(w.ready)
	if p != nil {
		T.releaseProcess(p)
	}
	return err
}

// setStickyID tags p for sticky session affinity.
func (T *Pool) setStickyID(p *Process, id string) {
	T.mu.Lock()
	defer T.mu.Unlock()
	p.stickyID = id
}

// collect deletes g once nothing references it anymore.
func (T *Pool) collect(g *Group) {
	if len(g.procs) != 0 || g.spawning != 0 || g.rolling || g.waiters.Length() != 0 {
		return
	}
	for i := 0; i < T.globalWaiters.Length(); i++ {
		if T.globalWaiters.Get(i).group == g {
			return
		}
	}
	if g.watcher != nil {
		_ = g.watcher.Close()
		g.watcher = nil
	}
	delete(T.groups, g.Name)
}

// Detach removes the process with the given detach key from the pool.
// Sessions already running on it finish normally; no new ones are issued.
// Returns true iff a process was removed.
func (T *Pool) Detach(detachKey string) bool {
	T.mu.Lock()
	defer T.mu.Unlock()

	for _, g := range T.groups {
		for _, p := range g.procs {
			if p.DetachKey == detachKey {
				T.remove(g, p)
				T.capacityFreed()
				T.collect(g)
				return true
			}
		}
	}
	return false
}

// Clear retires every process in every group. Outstanding sessions own
// their sockets and finish normally; the pool stays usable.
func (T *Pool) Clear() {
	T.mu.Lock()
	defer T.mu.Unlock()
	T.clearLocked()
}

func (T *Pool) clearLocked() {
	for _, g := range T.groups {
		for len(g.procs) > 0 {
			T.remove(g, g.procs[0])
		}
		T.collect(g)
	}
}

// Close clears the pool, stops the cleaner, and fails all waiters with
// ErrPoolClosed. Sessions already handed out keep working.
func (T *Pool) Close() {
	T.mu.Lock()
	if T.closed {
		T.mu.Unlock()
		return
	}
	T.closed = true
	T.clearLocked()
	for _, g := range T.groups {
		if g.watcher != nil {
			_ = g.watcher.Close()
			g.watcher = nil
		}
	}
	T.mu.Unlock()

	close(T.done)
}

func (T *Pool) SetMax(n int) {
	T.mu.Lock()
	defer T.mu.Unlock()
	T.max = n
	// a raise may let queued waiters proceed
	T.capacityFreed()
}

func (T *Pool) SetMaxPerApp(n int) {
	T.mu.Lock()
	defer T.mu.Unlock()
	T.maxPerApp = n
}

func (T *Pool) SetMaxIdleTime(d time.Duration) {
	T.mu.Lock()
	defer T.mu.Unlock()
	T.maxIdleTime = d
}

func (T *Pool) Count() int {
	T.mu.Lock()
	defer T.mu.Unlock()
	return T.count
}

func (T *Pool) Active() int {
	T.mu.Lock()
	defer T.mu.Unlock()
	return T.active
}

func (T *Pool) GlobalQueueSize() int {
	T.mu.Lock()
	defer T.mu.Unlock()
	return T.globalWaiters.Length()
}
