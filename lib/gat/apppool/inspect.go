package apppool

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Inspect renders a human-readable snapshot of the pool.
func (T *Pool) Inspect() string {
	T.mu.Lock()
	defer T.mu.Unlock()

	var b strings.Builder
	b.WriteString("----------- General information -----------\n")
	fmt.Fprintf(&b, "max = %d\n", T.max)
	fmt.Fprintf(&b, "count = %d\n", T.count)
	fmt.Fprintf(&b, "active = %d\n", T.active)
	fmt.Fprintf(&b, "globalQueueSize = %d\n", T.globalWaiters.Length())
	b.WriteString("\n----------- Application groups -----------\n")

	names := make([]string, 0, len(T.groups))
	for name := range T.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	for _, name := range names {
		g := T.groups[name]
		fmt.Fprintf(&b, "%s:\n", g.Name)
		fmt.Fprintf(&b, "  App root: %s\n", g.options.AppRoot)
		for _, p := range g.procs {
			fmt.Fprintf(&b, "  * PID: %d   Sessions: %d   Processed: %d   Uptime: %s\n",
				p.PID(), p.active, p.requests, now.Sub(p.spawnedAt).Truncate(time.Second))
		}
		b.WriteString("\n")
	}

	return b.String()
}

type xmlSocket struct {
	Name    string `xml:"name"`
	Network string `xml:"network"`
	Address string `xml:"address"`
}

type xmlServerSockets struct {
	Sockets []xmlSocket `xml:"socket"`
}

type xmlProcess struct {
	PID       int    `xml:"pid"`
	Sessions  int    `xml:"sessions"`
	Processed int    `xml:"processed"`
	LastUsed  string `xml:"last_used"`
	Uptime    string `xml:"uptime"`

	// sensitive fields, omitted unless asked for
	DetachKey       string            `xml:"detach_key,omitempty"`
	ConnectPassword string            `xml:"connect_password,omitempty"`
	ServerSockets   *xmlServerSockets `xml:"server_sockets,omitempty"`
}

type xmlGroup struct {
	Name      string       `xml:"name"`
	AppRoot   string       `xml:"app_root"`
	Processes []xmlProcess `xml:"processes>process"`
}

type xmlInfo struct {
	XMLName         xml.Name   `xml:"info"`
	Max             int        `xml:"max"`
	Count           int        `xml:"process_count"`
	Active          int        `xml:"active"`
	GlobalQueueSize int        `xml:"global_queue_size"`
	Groups          []xmlGroup `xml:"groups>group"`
}

// ToXML renders a machine-readable snapshot. Sensitive fields (listening
// endpoints, connect passwords, detach keys) are only present when
// includeSensitive is set.
func (T *Pool) ToXML(includeSensitive bool) string {
	T.mu.Lock()

	info := xmlInfo{
		Max:             T.max,
		Count:           T.count,
		Active:          T.active,
		GlobalQueueSize: T.globalWaiters.Length(),
	}

	names := make([]string, 0, len(T.groups))
	for name := range T.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	for _, name := range names {
		g := T.groups[name]
		xg := xmlGroup{
			Name:    g.Name,
			AppRoot: g.options.AppRoot,
		}
		for _, p := range g.procs {
			xp := xmlProcess{
				PID:       p.PID(),
				Sessions:  p.active,
				Processed: p.requests,
				LastUsed:  p.lastUsed.Format(time.RFC3339),
				Uptime:    now.Sub(p.spawnedAt).Truncate(time.Second).String(),
			}
			if includeSensitive {
				xp.DetachKey = p.DetachKey
				xp.ConnectPassword = p.worker.ConnectPassword()
				sockets := &xmlServerSockets{}
				for _, s := range p.worker.Sockets() {
					sockets.Sockets = append(sockets.Sockets, xmlSocket{
						Name:    s.Name,
						Network: s.Network,
						Address: s.Address,
					})
				}
				xp.ServerSockets = sockets
			}
			xg.Processes = append(xg.Processes, xp)
		}
		info.Groups = append(info.Groups, xg)
	}

	T.mu.Unlock()

	out, err := xml.MarshalIndent(&info, "", "  ")
	if err != nil {
		return "<info></info>"
	}
	return string(out)
}
