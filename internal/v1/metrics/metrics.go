package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the relay and session service.
//
// Naming convention: namespace_subsystem_name
// - namespace: watchtower (application-level grouping)
// - subsystem: websocket, room, stats, redis (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live room actors
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live room actors",
	})

	// RoomPlayers tracks the number of connected players per room
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of connected players in each room",
	}, []string{"room_code"})

	// WebsocketEvents tracks the total number of WebSocket frames processed
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"frame_type", "status"})

	// MessageProcessingDuration tracks the time spent inside room actor handlers
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchtower",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing room actor commands",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"frame_type"})

	// StatsEvents tracks events accepted by the stats accumulator
	StatsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "stats",
		Name:      "events_total",
		Help:      "Total events accepted by the stats accumulator",
	}, []string{"event", "status"})

	// RedisOperationsTotal tracks the total number of Redis operations
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchtower",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// CircuitBreakerState tracks the current state of the circuit breaker
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
