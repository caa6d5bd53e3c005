package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversationsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_conversations",
		Help: "Number of conversations currently held in the session store.",
	})
	messagesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_messages",
		Help: "Number of messages currently held across all conversations.",
	})
	truncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_truncations_total",
		Help: "History truncations performed by edit/regenerate.",
	})
	migrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_task_migrations_total",
		Help: "Temporary to durable task id migrations.",
	})
)
