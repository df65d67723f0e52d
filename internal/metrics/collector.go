package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreSizer is the slice of store.Store the collector needs: just enough
// to read the current record count at scrape time, without importing the
// store package and risking an import cycle.
type StoreSizer interface {
	Size(ctx context.Context) (int, error)
}

// Collector implements prometheus.Collector to read the live store size at
// scrape time rather than requiring the engine to push a gauge update on
// every insert/delete.
type Collector struct {
	store StoreSizer

	storeRecords *prometheus.Desc
}

// NewCollector creates a collector reading live record counts from store.
// store may be nil (metrics will report 0), e.g. before the store is wired.
func NewCollector(store StoreSizer) *Collector {
	return &Collector{
		store: store,
		storeRecords: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "store_records"),
			"Current number of records held by the record store.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.storeRecords
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var n int
	if c.store != nil {
		if size, err := c.store.Size(context.Background()); err == nil {
			n = size
		}
	}
	ch <- prometheus.MustNewConstMetric(c.storeRecords, prometheus.GaugeValue, float64(n))
}
