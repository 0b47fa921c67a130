package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_open_connections",
		Help: "Connections currently registered in the presence registry.",
	})
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_published_total",
		Help: "Domain events published, by entity kind.",
	}, []string{"kind"})
	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_send_failures_total",
		Help: "Per-connection sends dropped during fan-out.",
	})
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_cache_lookups_total",
		Help: "Cache lookups, by outcome.",
	}, []string{"outcome"})
)
