package send

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatsync_send_failures_total",
	Help: "Sends that failed on connectivity or acknowledgment.",
})
