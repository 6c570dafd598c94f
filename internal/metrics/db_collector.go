package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is a snapshot of database connection pool usage.
type PoolStats struct {
	Total    int32
	Idle     int32
	Acquired int32
}

// DBPoolStatFunc reports pool usage without this package importing pgxpool.
type DBPoolStatFunc func() PoolStats

type poolGauge struct {
	desc  *prometheus.Desc
	value func(PoolStats) int32
}

// dbPoolCollector reads pool stats at scrape time, so the gauges never lag
// behind the pool.
type dbPoolCollector struct {
	stat   DBPoolStatFunc
	gauges []poolGauge
}

// NewDBPoolCollector returns a collector exposing teambeat_db_pool_* gauges.
func NewDBPoolCollector(stat DBPoolStatFunc) prometheus.Collector {
	gauge := func(name, help string, value func(PoolStats) int32) poolGauge {
		return poolGauge{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil),
			value: value,
		}
	}
	return &dbPoolCollector{
		stat: stat,
		gauges: []poolGauge{
			gauge("total_conns", "Total number of connections in the DB pool.", func(s PoolStats) int32 { return s.Total }),
			gauge("idle_conns", "Number of idle connections in the DB pool.", func(s PoolStats) int32 { return s.Idle }),
			gauge("acquired_conns", "Number of acquired connections in the DB pool.", func(s PoolStats) int32 { return s.Acquired }),
		},
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(g.value(s)))
	}
}
