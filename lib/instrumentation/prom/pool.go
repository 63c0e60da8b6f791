package prom

import (
	"gfx.cafe/open/gotoprom"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gotoprom.MustInit(&Pool, "appgat_pool", make(prometheus.Labels))
	gotoprom.MustInit(&Operation, "appgat_operation", make(prometheus.Labels))
}

type PoolLabels struct {
	Group string `label:"app_group"`
}

var Pool struct {
	Spawned   func(PoolLabels) prometheus.Counter `name:"spawned" help:"worker processes spawned"`
	Retired   func(PoolLabels) prometheus.Counter `name:"retired" help:"worker processes retired"`
	Processes func(PoolLabels) prometheus.Gauge   `name:"processes" help:"current worker processes"`
	Active    func(PoolLabels) prometheus.Gauge   `name:"active" help:"worker processes with live sessions"`
}

type OperationLabels struct {
	Group string `label:"app_group"`
}

var Operation struct {
	Acquire func(OperationLabels) prometheus.Histogram `name:"acquire_ms" buckets:"0.005,0.01,0.1,0.25,0.5,0.75,1,5,10,100,500,1000,5000" help:"ms to check a session out of the pool"`
	Spawn   func(OperationLabels) prometheus.Histogram `name:"spawn_ms"   buckets:"1,5,10,30,75,150,300,500,1000,2000,5000,7500,10000,15000,30000" help:"ms the spawner took to produce a worker"`
}
