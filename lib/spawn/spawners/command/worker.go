package command

import (
	"os"
	"syscall"

	"gfx.cafe/gfx/appgat/lib/spawn"
)

// Worker wraps the detached OS process a spawn helper reported.
type Worker struct {
	pid      int
	proc     *os.Process
	sockets  []spawn.Socket
	session  spawn.Socket
	password string
}

func (T *Worker) PID() int {
	return T.pid
}

func (T *Worker) SessionSocket() spawn.Socket {
	return T.session
}

func (T *Worker) Sockets() []spawn.Socket {
	return T.sockets
}

func (T *Worker) ConnectPassword() string {
	return T.password
}

func (T *Worker) Alive() bool {
	return T.proc.Signal(syscall.Signal(0)) == nil
}

func (T *Worker) Terminate() error {
	return T.proc.Signal(syscall.SIGTERM)
}

func (T *Worker) Kill() error {
	return T.proc.Kill()
}

var _ spawn.Worker = (*Worker)(nil)
