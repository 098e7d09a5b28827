package hub

import (
	"context"
	"encoding/json"
	"log"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sas_live_connections",
		Help: "Currently registered live-feed connections.",
	})
	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sas_live_frames_dropped_total",
		Help: "Frames dropped because a subscriber's send queue was full.",
	})
)

// MetricsSnapshot is the periodic aggregate broadcast to every subscriber.
// It is recomputed per tick and never persisted.
type MetricsSnapshot struct {
	TotalConnections  int64     `json:"totalConnections"`
	ActiveConnections int       `json:"activeConnections"`
	Rooms             int       `json:"rooms"`
	MessagesSent      int64     `json:"messagesSent"`
	MessagesDropped   int64     `json:"messagesDropped"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	Goroutines        int       `json:"goroutines"`
	HeapBytes         uint64    `json:"heapBytes"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot recomputes the aggregate without disturbing the per-tick
// counters, for on-demand get-metrics requests.
func (h *Hub) Snapshot() MetricsSnapshot {
	snap := h.snapshot()
	snap.MessagesSent = h.sentSinceTick.Load()
	snap.MessagesDropped = h.droppedSinceTick.Load()
	return snap
}

// snapshotAndReset is the tick variant: it also resets the throughput
// counters so each broadcast covers one interval.
func (h *Hub) snapshotAndReset() MetricsSnapshot {
	snap := h.snapshot()
	snap.MessagesSent = h.sentSinceTick.Swap(0)
	snap.MessagesDropped = h.droppedSinceTick.Swap(0)
	return snap
}

func (h *Hub) snapshot() MetricsSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.RLock()
	snap := MetricsSnapshot{
		TotalConnections:  h.totalConnections,
		ActiveConnections: len(h.conns),
		Rooms:             len(h.rooms),
		UptimeSeconds:     time.Since(h.started).Seconds(),
		Goroutines:        runtime.NumGoroutine(),
		HeapBytes:         ms.HeapAlloc,
		Timestamp:         time.Now().UTC(),
	}
	h.mu.RUnlock()
	return snap
}

// Run drives the connection monitor: on every tick it sweeps stale
// connections and broadcasts a fresh metrics snapshot to all subscribers.
// It owns no goroutine itself; callers run it and cancel via ctx.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.metricsTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepStale()
			payload, err := json.Marshal(Envelope{Type: "system-metrics", Data: h.snapshotAndReset()})
			if err != nil {
				log.Printf("hub: marshal metrics: %v", err)
				continue
			}
			h.Broadcast(payload)
		}
	}
}

// sweepStale force-disconnects connections whose last heartbeat is older
// than the timeout, announcing each removal as a system alert.
func (h *Hub) sweepStale() {
	cutoff := time.Now().Add(-h.heartbeatTimeout)

	h.mu.RLock()
	var stale []string
	for id, c := range h.conns {
		if c.lastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		log.Printf("hub: disconnecting stale connection %s", id)
		h.Unregister(id)
	}
	if len(stale) > 0 {
		payload, err := json.Marshal(Envelope{Type: "system-alert", Data: map[string]any{
			"reason":  "stale_connections_removed",
			"removed": len(stale),
		}})
		if err == nil {
			h.Broadcast(payload)
		}
	}
}
