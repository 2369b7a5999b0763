package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candledesk_orders_total", Help: "Order submissions by side and outcome"},
		[]string{"side", "outcome"},
	)
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candledesk_polls_total", Help: "Scheduled poll runs by task and result"},
		[]string{"task", "result"},
	)
	VenueRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candledesk_venue_requests_total", Help: "Venue HTTP calls by operation and result"},
		[]string{"op", "result"},
	)
	TicksRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candledesk_ticks_recorded_total", Help: "Ticks persisted by the recorder"},
		[]string{"ticker"},
	)
)

func init() {
	prometheus.MustRegister(OrdersTotal, PollsTotal, VenueRequestsTotal, TicksRecordedTotal)
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
