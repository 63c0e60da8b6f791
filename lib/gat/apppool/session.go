package apppool

import (
	"bytes"
	"net"
	"sync"
)

// ConnectPasswordHeader is the CGI header a session must echo with the
// process's connect password.
const ConnectPasswordHeader = "PASSENGER_CONNECT_PASSWORD"

// CGIHeaders frames name/value pairs as a CGI-style header block: each name
// and value null-terminated, the block ended by writer shutdown.
func CGIHeaders(pairs ...string) []byte {
	if len(pairs)%2 != 0 {
		panic("CGIHeaders requires name/value pairs")
	}
	var buf bytes.Buffer
	for _, s := range pairs {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Session is one in-flight request against one worker process. It owns its
// socket and keeps its Process reference alive independently of the pool, so
// it stays usable after Clear or Close.
type Session struct {
	proc *Process
	pool *Pool
	conn net.Conn

	once sync.Once
}

// SendHeaders forwards an already framed header block to the worker. The
// pool does not parse it.
func (T *Session) SendHeaders(block []byte) error {
	_, err := T.conn.Write(block)
	return err
}

func (T *Session) Write(p []byte) (int, error) {
	return T.conn.Write(p)
}

func (T *Session) Read(p []byte) (int, error) {
	return T.conn.Read(p)
}

// ShutdownWriter half-closes the stream so the worker sees EOF and can
// start responding.
func (T *Session) ShutdownWriter() error {
	if cw, ok := T.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (T *Session) PID() int {
	return T.proc.PID()
}

func (T *Session) DetachKey() string {
	return T.proc.DetachKey
}

func (T *Session) ConnectPassword() string {
	return T.proc.worker.ConnectPassword()
}

// SetStickyID tags the underlying process so later checkouts with the same
// sticky session id prefer it.
func (T *Session) SetStickyID(id string) {
	T.pool.setStickyID(T.proc, id)
}

// Close releases the process back to its group and closes the stream.
// Idempotent.
func (T *Session) Close() error {
	T.once.Do(func() {
		_ = T.conn.Close()
		T.pool.releaseProcess(T.proc)
	})
	return nil
}
