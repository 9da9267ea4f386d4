package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OracleMetrics tracks price-round resolution by the pricing adapter.
type OracleMetrics struct {
	resolutions *prometheus.CounterVec
	roundAge    prometheus.Gauge
	lastRound   prometheus.Gauge
}

var (
	oracleOnce     sync.Once
	oracleRegistry *OracleMetrics
)

// Oracle returns the singleton oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dropmarket_oracle_resolutions_total",
				Help: "Count of price round resolutions segmented by outcome.",
			}, []string{"outcome"}),
			roundAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dropmarket_oracle_round_age_seconds",
				Help: "Age of the most recently resolved price round.",
			}),
			lastRound: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dropmarket_oracle_last_round",
				Help: "Identifier of the most recently resolved price round.",
			}),
		}
		prometheus.MustRegister(oracleRegistry.resolutions, oracleRegistry.roundAge, oracleRegistry.lastRound)
	})
	return oracleRegistry
}

// RecordResolved captures a successfully resolved round.
func (m *OracleMetrics) RecordResolved(roundID *big.Int, age time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues("ok").Inc()
	if roundID != nil {
		id, _ := new(big.Float).SetInt(roundID).Float64()
		m.lastRound.Set(id)
	}
	if age < 0 {
		age = 0
	}
	m.roundAge.Set(age.Seconds())
}

// RecordUnavailable counts a round that could not be used.
func (m *OracleMetrics) RecordUnavailable() {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues("unavailable").Inc()
}
