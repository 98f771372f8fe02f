package pool

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var poolLabels = []string{"host", "port", "user", "database"}

var (
	sourcesDesc = prometheus.NewDesc(
		"mysqlquery_pool_sources",
		"Number of cached pooled sources",
		nil, nil,
	)
	createdDesc = prometheus.NewDesc(
		"mysqlquery_pool_created_total",
		"Total number of pooled sources created",
		nil, nil,
	)
	openDesc = prometheus.NewDesc(
		"mysqlquery_pool_open_connections",
		"Open connections per pooled source",
		poolLabels, nil,
	)
	inUseDesc = prometheus.NewDesc(
		"mysqlquery_pool_in_use_connections",
		"Checked-out connections per pooled source",
		poolLabels, nil,
	)
	idleDesc = prometheus.NewDesc(
		"mysqlquery_pool_idle_connections",
		"Idle connections per pooled source",
		poolLabels, nil,
	)
	waitCountDesc = prometheus.NewDesc(
		"mysqlquery_pool_wait_total",
		"Total number of connections waited for per pooled source",
		poolLabels, nil,
	)
	waitSecondsDesc = prometheus.NewDesc(
		"mysqlquery_pool_wait_seconds_total",
		"Total time blocked waiting for a connection per pooled source",
		poolLabels, nil,
	)
)

// Collector exports registry statistics to Prometheus
type Collector struct {
	registry *Registry
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(r *Registry) *Collector {
	return &Collector{registry: r}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sourcesDesc
	ch <- createdDesc
	ch <- openDesc
	ch <- inUseDesc
	ch <- idleDesc
	ch <- waitCountDesc
	ch <- waitSecondsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.registry.Stats()

	ch <- prometheus.MustNewConstMetric(sourcesDesc, prometheus.GaugeValue, float64(len(stats)))
	ch <- prometheus.MustNewConstMetric(createdDesc, prometheus.CounterValue, float64(c.registry.Created()))

	for _, st := range stats {
		labels := []string{st.Identity.Host, strconv.Itoa(st.Identity.Port), st.Identity.User, st.Identity.Database}
		ch <- prometheus.MustNewConstMetric(openDesc, prometheus.GaugeValue, float64(st.Open), labels...)
		ch <- prometheus.MustNewConstMetric(inUseDesc, prometheus.GaugeValue, float64(st.InUse), labels...)
		ch <- prometheus.MustNewConstMetric(idleDesc, prometheus.GaugeValue, float64(st.Idle), labels...)
		ch <- prometheus.MustNewConstMetric(waitCountDesc, prometheus.CounterValue, float64(st.WaitCount), labels...)
		ch <- prometheus.MustNewConstMetric(waitSecondsDesc, prometheus.CounterValue, st.waitDurationRaw.Seconds(), labels...)
	}
}
