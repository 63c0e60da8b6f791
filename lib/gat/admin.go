package gat

import (
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gfx.cafe/gfx/appgat/lib/gat/apppool"
)

type AdminConfig struct {
	// Address to serve introspection on. A leading / means a unix socket.
	Address string `json:"address"`
}

// admin serves pool introspection and prometheus metrics over a local
// listener. It is the optional facade of the pool, not a request path.
type admin struct {
	config AdminConfig
	pool   *apppool.Pool
	log    *zap.Logger

	listener net.Listener
	server   *http.Server
}

func (T *admin) Start() error {
	network := "tcp"
	if strings.HasPrefix(T.config.Address, "/") {
		network = "unix"
	}

	listener, err := net.Listen(network, T.config.Address)
	if err != nil {
		return err
	}
	T.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/status.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(T.pool.Inspect()))
	})
	mux.HandleFunc("/status.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		sensitive := r.URL.Query().Get("sensitive") == "1"
		_, _ = w.Write([]byte(T.pool.ToXML(sensitive)))
	})
	mux.Handle("/metrics", promhttp.Handler())

	T.server = &http.Server{Handler: mux}

	go func() {
		if err := T.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			T.log.Warn("admin server stopped", zap.Error(err))
		}
	}()

	T.log.Info("admin listening", zap.String("address", T.config.Address))
	return nil
}

func (T *admin) Stop() error {
	if T.server == nil {
		return nil
	}
	return T.server.Close()
}
