package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transfers         prometheus.Counter
	Mints             prometheus.Counter
	Burns             prometheus.Counter
	DecayPersists     *prometheus.CounterVec
	ScheduleChanges   prometheus.Counter
	ScheduleSize      prometheus.Gauge
	ArithmeticAborts  prometheus.Counter
	PublishFailures   prometheus.Counter
	BalanceCacheHits  prometheus.Counter
	BalanceCacheMiss  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Transfers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_ledger_transfers_total",
			Help: "Total number of completed transfers",
		}),
		Mints: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_ledger_mints_total",
			Help: "Total number of completed mints",
		}),
		Burns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_ledger_burns_total",
			Help: "Total number of completed burns",
		}),
		DecayPersists: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "demura_decay_persists_total",
			Help: "Total number of decay settlements written back",
		}, []string{"entity"}),
		ScheduleChanges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_schedule_changes_total",
			Help: "Total number of accepted rate schedule changes",
		}),
		ScheduleSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "demura_schedule_entries",
			Help: "Current number of rate schedule entries",
		}),
		ArithmeticAborts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_arithmetic_aborts_total",
			Help: "Operations aborted by fixed-point overflow",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_rate_change_publish_failures_total",
			Help: "Rate change events that failed to publish",
		}),
		BalanceCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_balance_cache_hits_total",
			Help: "Balance queries answered from the cache",
		}),
		BalanceCacheMiss: promauto.NewCounter(prometheus.CounterOpts{
			Name: "demura_balance_cache_misses_total",
			Help: "Balance queries computed from the schedule",
		}),
	}
}
