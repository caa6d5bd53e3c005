package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reconcile_runs_total",
		Help: "Snapshot merge passes applied to the session store.",
	})
	contentAdoptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reconcile_content_adopted_total",
		Help: "Live entries whose content was replaced by a longer snapshot.",
	})
	resumesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_stream_resumes_total",
		Help: "Mid-stream re-attachments performed by recovery.",
	})
)
