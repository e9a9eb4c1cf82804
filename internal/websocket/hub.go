package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streampulse-analytics-platform/internal/metrics"
	"github.com/streampulse-analytics-platform/internal/stream"
)

const (
	// broadcastInterval is the cadence of the periodic metrics and
	// recent-events broadcast.
	broadcastInterval = 5 * time.Second

	// recentEventCount is how many of the newest processed entries each
	// periodic broadcast carries.
	recentEventCount = 10

	// highSeverityZScore is the Z-score above which an anomaly alert is
	// tagged high instead of medium.
	highSeverityZScore = 4.0
)

// Hub maintains the set of subscriber sessions, runs the periodic broadcast
// loop, and pushes anomaly alerts and throughput warnings.
//
// The subscriber set is mutated by both the broadcast loop and per-session
// handlers; sends that fail during a broadcast are collected and the
// sessions removed only after iteration completes.
type Hub struct {
	log       stream.Log
	collector *metrics.Collector

	mu      sync.RWMutex
	clients map[*Client]bool

	throughputTarget float64
}

// NewHub creates a hub reading recent events through the given log client.
func NewHub(logClient stream.Log, collector *metrics.Collector, throughputTarget int) *Hub {
	return &Hub{
		log:              logClient,
		collector:        collector,
		clients:          make(map[*Client]bool),
		throughputTarget: float64(throughputTarget),
	}
}

// Register inserts a freshly accepted session, synthesizing a client id when
// the client supplied none, and sends the welcome frame.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if client.id == "" {
		client.id = fmt.Sprintf("client_%d", len(h.clients)+1)
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.collector.UpdateActiveConnections(total)
	log.Printf("[Hub] Client connected: %s (total: %d)", client.id, total)

	client.enqueue(map[string]interface{}{
		"type":      "connected",
		"client_id": client.id,
		"message":   "Connected to StreamPulse real-time stream",
	})
}

// Disconnect removes a session and closes its send queue. Idempotent.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	h.collector.UpdateActiveConnections(total)
	log.Printf("[Hub] Client disconnected: %s (total: %d)", client.id, total)
}

// Broadcast serializes the message once and sends it to every session.
// Sessions whose send fails are disconnected after the iteration so the set
// is never mutated while being walked.
func (h *Hub) Broadcast(message map[string]interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("[Hub] Failed to marshal broadcast: %v", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	var failed []*Client
	for _, client := range targets {
		if !client.enqueueRaw(payload) {
			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		log.Printf("[Hub] Dropping unresponsive client: %s", client.id)
		h.Disconnect(client)
	}
}

// Run drives the periodic broadcast loop until the context is cancelled.
// Per-iteration failures are logged and do not terminate the loop.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	log.Println("[Hub] Broadcast loop started")
	for {
		select {
		case <-ticker.C:
			h.broadcastMetrics()
			h.broadcastRecentEvents(ctx)
		case <-ctx.Done():
			log.Println("[Hub] Broadcast loop stopped")
			h.closeAll()
			return
		}
	}
}

func (h *Hub) broadcastMetrics() {
	h.Broadcast(map[string]interface{}{
		"type":      "metrics",
		"data":      h.collector.Summary(),
		"timestamp": timestamp(),
	})
}

func (h *Hub) broadcastRecentEvents(ctx context.Context) {
	entries, err := h.log.ReadRange(ctx, stream.ProcessedStream, "-", "+", true, recentEventCount)
	if err != nil {
		log.Printf("[Hub] Failed to read recent events: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	events := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		events = append(events, map[string]interface{}{
			"id":        entry.ID,
			"data":      entry.Fields,
			"timestamp": entry.Fields["processed_at"],
		})
	}

	h.Broadcast(map[string]interface{}{
		"type":  "recent_events",
		"data":  events,
		"count": len(events),
	})
}

// AnomalyAlert pushes an immediate alert for a detected anomaly.
func (h *Hub) AnomalyAlert(eventID string, value, zScore float64, processedAt string) {
	severity := "medium"
	if zScore > highSeverityZScore || zScore < -highSeverityZScore {
		severity = "high"
	}

	h.Broadcast(map[string]interface{}{
		"type": "anomaly_alert",
		"data": map[string]interface{}{
			"event_id":  eventID,
			"value":     value,
			"z_score":   zScore,
			"timestamp": processedAt,
			"severity":  severity,
		},
		"alert_timestamp": timestamp(),
	})
	log.Printf("[Hub] Anomaly alert sent: event=%s z=%.2f severity=%s", eventID, zScore, severity)
}

// ThroughputWarning broadcasts a backpressure warning when throughput falls
// below 80% of the configured target.
func (h *Hub) ThroughputWarning(currentThroughput float64) {
	if h.throughputTarget <= 0 {
		return
	}
	threshold := h.throughputTarget * 0.8
	if currentThroughput >= threshold {
		return
	}

	h.Broadcast(map[string]interface{}{
		"type": "throughput_warning",
		"data": map[string]interface{}{
			"current_throughput": currentThroughput,
			"target_throughput":  h.throughputTarget,
			"threshold":          threshold,
			"performance_ratio":  currentThroughput / h.throughputTarget,
		},
		"warning_timestamp": timestamp(),
	})
	log.Printf("[Hub] Throughput warning sent: current=%.1f target=%.0f", currentThroughput, h.throughputTarget)
}

// ConnectionStats reports the current subscriber sessions.
func (h *Hub) ConnectionStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var totalMessages int64
	connections := make([]map[string]interface{}, 0, len(h.clients))
	for client := range h.clients {
		sent := client.messagesSent()
		totalMessages += sent
		connections = append(connections, map[string]interface{}{
			"client_id":     client.id,
			"connected_at":  client.connectedAt.UTC().Format(time.RFC3339Nano),
			"message_count": sent,
			"duration":      time.Since(client.connectedAt).Seconds(),
		})
	}

	return map[string]interface{}{
		"active_connections":  len(h.clients),
		"total_messages_sent": totalMessages,
		"connections":         connections,
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.closeSend()
	}
	h.collector.UpdateActiveConnections(0)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
