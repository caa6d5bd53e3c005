package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_applied_total",
		Help: "Push-channel events applied, by event kind.",
	}, []string{"event"})
	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_events_duplicate_total",
		Help: "Events whose target entry already existed (idempotent no-op).",
	})
	unroutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_events_unrouted_total",
		Help: "Events for a turn the engine could not place.",
	})
	offsetGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_chunk_offset_gaps_total",
		Help: "Chunk offsets beyond current content length (defensive append).",
	})
	queueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_queue_dropped_total",
		Help: "Events dropped because the ingest queue was full.",
	})
)
