package apppool

import (
	"time"

	"go.uber.org/zap"

	"gfx.cafe/gfx/appgat/lib/spawn"
)

const (
	DefaultMax           = 6
	DefaultMaxIdleTime   = 5 * time.Minute
	DefaultCleanInterval = 200 * time.Millisecond
)

type Config struct {
	Spawner spawn.Spawner

	// Max caps the fleet-wide process count. 0 = DefaultMax.
	Max int

	// MaxPerApp is the default per-group cap. 0 = unlimited. A checkout's
	// MaxInstances combines with this; the lower nonzero bound wins.
	MaxPerApp int

	// MaxIdleTime is how long a process may sit idle before the cleaner
	// retires it, down to each group's MinProcesses.
	MaxIdleTime time.Duration

	// CleanInterval is the cleaner granularity.
	CleanInterval time.Duration

	// WatchRestartDirs pre-arms restart checks with fsnotify so checkouts
	// can skip the restart.txt stat when nothing changed. always_restart.txt
	// is still checked on every checkout.
	WatchRestartDirs bool

	Logger *zap.Logger
}
