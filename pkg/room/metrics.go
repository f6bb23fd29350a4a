package room

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// metrics holds the Prometheus metrics of a Registry.
type metrics struct {
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	roomsActive     prometheus.Gauge
	members         prometheus.Gauge
	snapshotActions prometheus.Histogram
	dropped         prometheus.Counter
	lagging         prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_operations_total",
			Help:      "Total number of room requests by operation and result",
		}, []string{"op", "result"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_operation_duration_seconds",
			Help:      "Room request handling duration in seconds",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}, []string{"op"}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of rooms with at least one member",
		}),

		members: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Number of members across all rooms",
		}),

		snapshotActions: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_snapshot_actions",
			Help:      "Number of active actions per snapshot sent",
			Buckets:   []float64{0, 10, 50, 100, 250, 500, 1000},
		}),

		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_dropped_messages_total",
			Help:      "Frames dropped because a member outbox was full",
		}),

		lagging: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_lagging_members_total",
			Help:      "Members disconnected because their outbox overflowed",
		}),
	}
}

// resultLabel returns a low-cardinality label for an operation error.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := ierrors.CodeOf(err); code != "" {
		return code
	}
	return "internal"
}
