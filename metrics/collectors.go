package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mjasion/phenostation/station"
)

// Collectors are the station's Prometheus metrics, served on /metrics
type Collectors struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	lastGrowth    prometheus.Gauge
	lastWeight    prometheus.Gauge
	lastSuccess   prometheus.Gauge
	cycleDuration prometheus.Histogram

	storageFiles prometheus.Gauge
	storageBytes prometheus.Gauge
	storageFree  prometheus.Gauge
}

// NewCollectors registers the station metrics plus Go and process collectors on a fresh registry
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phenostation",
			Name:      "cycles_total",
			Help:      "Measurement cycles by outcome and failed step.",
		}, []string{"outcome", "step"}),
		lastGrowth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenostation",
			Name:      "growth_value",
			Help:      "Growth value of the last published cycle.",
		}),
		lastWeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenostation",
			Name:      "weight_raw",
			Help:      "Raw averaged load-cell value of the last weighed cycle.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenostation",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last published cycle.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "phenostation",
			Name:      "cycle_duration_seconds",
			Help:      "Time from LED off to the end of the write step.",
			Buckets:   []float64{10, 12, 15, 20, 30, 60, 120, 300},
		}),
		storageFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenostation",
			Name:      "images_total",
			Help:      "Photos in the image directory.",
		}),
		storageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenostation",
			Name:      "images_bytes",
			Help:      "Bytes used by photos in the image directory.",
		}),
		storageFree: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenostation",
			Name:      "storage_free_bytes",
			Help:      "Free bytes on the filesystem holding the image directory.",
		}),
	}
}

// Registry exposes the registry for the HTTP handler
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Record updates the cycle metrics
func (c *Collectors) Record(_ context.Context, res station.CycleResult) {
	switch {
	case res.OK():
		c.cycles.WithLabelValues("success", "").Inc()
		c.lastGrowth.Set(res.Growth)
		c.lastSuccess.Set(float64(res.Finished.Unix()))
	case res.Interrupted:
		c.cycles.WithLabelValues("interrupted", res.Step).Inc()
	default:
		c.cycles.WithLabelValues("failure", res.Step).Inc()
	}
	if res.Weight != nil {
		c.lastWeight.Set(*res.Weight)
	}
	c.cycleDuration.Observe(res.Finished.Sub(res.Started).Seconds())
}

// ObserveStorage updates the storage gauges
func (c *Collectors) ObserveStorage(files int, bytes int64, free uint64) {
	c.storageFiles.Set(float64(files))
	c.storageBytes.Set(float64(bytes))
	c.storageFree.Set(float64(free))
}
