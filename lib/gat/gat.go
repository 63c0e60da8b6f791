package gat

import (
	"encoding/json"
	"fmt"

	"github.com/caddyserver/caddy/v2"
	"go.uber.org/zap"

	"gfx.cafe/gfx/appgat/lib/gat/apppool"
	"gfx.cafe/gfx/appgat/lib/spawn"
	"gfx.cafe/gfx/appgat/lib/util/dur"
)

func init() {
	caddy.RegisterModule((*App)(nil))
}

type Config struct {
	// Spawner produces worker processes for the pool.
	RawSpawner json.RawMessage `json:"spawner" caddy:"namespace=appgat.spawners inline_key=spawner"`

	// MaxPoolSize caps the fleet-wide worker process count.
	MaxPoolSize int `json:"max_pool_size,omitempty"`

	// MaxPerApp is the default per-group process cap. 0 = unlimited.
	MaxPerApp int `json:"max_per_app,omitempty"`

	// MaxIdleTime retires workers idle past this duration.
	MaxIdleTime dur.Duration `json:"max_idle_time,omitempty"`

	// WatchRestartDirs uses fsnotify to pre-arm restart marker checks.
	WatchRestartDirs bool `json:"watch_restart_dirs,omitempty"`

	// Admin optionally serves pool introspection over a local listener.
	Admin *AdminConfig `json:"admin,omitempty"`
}

type App struct {
	Config

	spawner spawn.Spawner
	pool    *apppool.Pool
	admin   *admin

	log *zap.Logger
}

func (*App) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID: "appgat",
		New: func() caddy.Module {
			return new(App)
		},
	}
}

func (T *App) Provision(ctx caddy.Context) error {
	T.log = ctx.Logger()

	val, err := ctx.LoadModule(T, "RawSpawner")
	if err != nil {
		return fmt.Errorf("loading spawner module: %v", err)
	}
	T.spawner = val.(spawn.Spawner)

	T.pool = apppool.NewPool(apppool.Config{
		Spawner:          T.spawner,
		Max:              T.MaxPoolSize,
		MaxPerApp:        T.MaxPerApp,
		MaxIdleTime:      T.MaxIdleTime.Duration(),
		WatchRestartDirs: T.WatchRestartDirs,
		Logger:           T.log,
	})

	if T.Admin != nil {
		T.admin = &admin{
			config: *T.Admin,
			pool:   T.pool,
			log:    T.log,
		}
	}

	return nil
}

// Pool exposes the application pool to other modules.
func (T *App) Pool() *apppool.Pool {
	return T.pool
}

func (T *App) Start() error {
	if T.admin != nil {
		if err := T.admin.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (T *App) Stop() error {
	if T.admin != nil {
		if err := T.admin.Stop(); err != nil {
			return err
		}
	}
	T.pool.Close()
	return nil
}

var _ caddy.Module = (*App)(nil)
var _ caddy.Provisioner = (*App)(nil)
var _ caddy.App = (*App)(nil)
