package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/searchktools/webserver/core/http"
)

// Metrics exposes the collector's counters to Prometheus
type Metrics struct {
	trafficIn  prometheus.Counter
	trafficOut prometheus.Counter
	served     *prometheus.CounterVec
	latency    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		trafficIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webserver",
			Name:      "traffic_in_bytes_total",
			Help:      "Bytes of decoded incoming messages.",
		}),
		trafficOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webserver",
			Name:      "traffic_out_bytes_total",
			Help:      "Bytes of written outgoing messages.",
		}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webserver",
			Name:      "served_requests_total",
			Help:      "Written responses by status code.",
		}, []string{"code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "webserver",
			Name:      "request_latency_seconds",
			Help:      "Time from request decode to response write.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.trafficIn, m.trafficOut, m.served, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterRates exposes the windowed rates of s as gauges on reg
func RegisterRates(reg prometheus.Registerer, s *Status) error {
	gauges := []struct {
		name   string
		help   string
		window string
		value  func() uint64
	}{
		{"sustained_rate", "Mean responses per second.", "1m", s.SustainedRate1},
		{"sustained_rate", "Mean responses per second.", "5m", s.SustainedRate5},
		{"sustained_rate", "Mean responses per second.", "15m", s.SustainedRate15},
		{"attained_rate", "Mean responses per busy second.", "1m", s.AttainedRate1},
		{"attained_rate", "Mean responses per busy second.", "5m", s.AttainedRate5},
		{"attained_rate", "Mean responses per busy second.", "15m", s.AttainedRate15},
		{"latency_microseconds", "Mean response latency.", "1m", s.Latency1},
		{"latency_microseconds", "Mean response latency.", "5m", s.Latency5},
		{"latency_microseconds", "Mean response latency.", "15m", s.Latency15},
	}

	for _, g := range gauges {
		value := g.value
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "webserver",
			Name:        g.name,
			Help:        g.help,
			ConstLabels: prometheus.Labels{"window": g.window},
		}, func() float64 { return float64(value()) })
		if err := reg.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeServed(code http.Code, length int) {
	m.served.WithLabelValues(strconv.Itoa(code.Number())).Inc()
	m.trafficOut.Add(float64(length))
}
