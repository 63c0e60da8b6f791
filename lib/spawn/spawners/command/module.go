package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/caddyserver/caddy/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gfx.cafe/gfx/appgat/lib/spawn"
	"gfx.cafe/gfx/appgat/lib/util/dur"
)

func init() {
	caddy.RegisterModule((*Spawner)(nil))
}

// Spawner shells out to an external spawn server command. The command
// initializes the worker process, detaches it, and prints a JSON handshake
// describing the result on stdout.
type Spawner struct {
	// Command is the spawn helper executable.
	Command string `json:"command"`

	// Args are prepended to every invocation.
	Args []string `json:"args,omitempty"`

	SpawnTimeout dur.Duration `json:"spawn_timeout,omitempty"`

	log *zap.Logger
}

func (*Spawner) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID: "appgat.spawners.command",
		New: func() caddy.Module {
			return new(Spawner)
		},
	}
}

func (T *Spawner) Provision(ctx caddy.Context) error {
	T.log = ctx.Logger()
	if T.Command == "" {
		return errors.New("command is required")
	}
	return nil
}

// handshake is what the spawn helper prints once the worker is accepting
// sessions.
type handshake struct {
	PID     int            `json:"pid"`
	Sockets []spawn.Socket `json:"sockets"`
}

func (T *Spawner) Spawn(ctx context.Context, options spawn.Options) (spawn.Worker, error) {
	if timeout := T.SpawnTimeout.Duration(); timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	password := uuid.NewString()

	args := append([]string{}, T.Args...)
	args = append(args, "spawn", "--app-root", options.AppRoot)
	if options.AppType != "" {
		args = append(args, "--app-type", options.AppType)
	}
	if options.SpawnMethod != "" {
		args = append(args, "--spawn-method", options.SpawnMethod)
	}

	cmd := exec.CommandContext(ctx, T.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "APPGAT_CONNECT_PASSWORD="+password)

	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %w: %s", T.Command, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%s: %w", T.Command, err)
	}

	var h handshake
	if err = json.Unmarshal(bytes.TrimSpace(out), &h); err != nil {
		return nil, fmt.Errorf("bad handshake from %s: %w", T.Command, err)
	}
	if h.PID <= 0 || len(h.Sockets) == 0 {
		return nil, fmt.Errorf("bad handshake from %s: pid %d, %d sockets", T.Command, h.PID, len(h.Sockets))
	}

	proc, err := os.FindProcess(h.PID)
	if err != nil {
		return nil, err
	}

	session := h.Sockets[0]
	for _, s := range h.Sockets {
		if s.Name == "session" {
			session = s
			break
		}
	}

	return &Worker{
		pid:      h.PID,
		proc:     proc,
		sockets:  h.Sockets,
		session:  session,
		password: password,
	}, nil
}

func (T *Spawner) Reload(appRoot string) {
	args := append([]string{}, T.Args...)
	args = append(args, "reload", "--app-root", appRoot)

	if err := exec.Command(T.Command, args...).Run(); err != nil {
		T.log.Debug("reload failed",
			zap.String("app_root", appRoot), zap.Error(err))
	}
}

var _ spawn.Spawner = (*Spawner)(nil)
var _ caddy.Module = (*Spawner)(nil)
var _ caddy.Provisioner = (*Spawner)(nil)
