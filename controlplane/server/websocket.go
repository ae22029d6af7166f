// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"maestro/platform/controlplane/cluster"
	"maestro/platform/controlplane/metrics"
	"maestro/platform/controlplane/runindex"
	"maestro/platform/shared/logger"
)

// Client message types.
const (
	msgSubscribeAll      = "subscribe_all"
	msgSubscribeWorkflow = "subscribe_workflow"
	msgSubscribeMetrics  = "subscribe_metrics"
	msgSubscribeHealth   = "subscribe_health"
	msgUnsubscribe       = "unsubscribe"
	msgPing              = "ping"
)

// Server message types.
const (
	msgWorkflowUpdate = "workflow_update"
	msgStepUpdate     = "step_update"
	msgMetricsUpdate  = "metrics_update"
	msgHealthUpdate   = "health_update"
	msgSubscribed     = "subscribed"
	msgError          = "error"
	msgPong           = "pong"
)

// ClientMessage is what a websocket client sends.
type ClientMessage struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
}

// ServerMessage is what the hub pushes to clients.
type ServerMessage struct {
	Type    string      `json:"type"`
	RunID   string      `json:"run_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// wsClient is one connected websocket with its subscription set.
type wsClient struct {
	conn *websocket.Conn
	send chan ServerMessage

	mu      sync.Mutex
	all     bool
	runs    map[string]bool
	metrics bool
	health  bool
}

func (c *wsClient) wantsRun(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.all || c.runs[runID]
}

// Hub fans run, step, metrics and health updates out to websocket
// subscribers. It satisfies the executor's notifier contract.
type Hub struct {
	registry *metrics.Registry
	cluster  *cluster.Manager
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates a hub. registry and manager may be nil; the metrics and
// health subscriptions then stay silent.
func NewHub(registry *metrics.Registry, manager *cluster.Manager) *Hub {
	return &Hub{
		registry: registry,
		cluster:  manager,
		log:      logger.New("ws-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}
}

// HandleWS upgrades the connection and serves it until it closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(tenantID(r), "", "websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan ServerMessage, 64),
		runs: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) readPump(client *wsClient) {
	defer h.drop(client)

	for {
		var msg ClientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			return
		}
		h.dispatch(client, msg)
	}
}

func (h *Hub) dispatch(client *wsClient, msg ClientMessage) {
	client.mu.Lock()
	switch msg.Type {
	case msgSubscribeAll:
		client.all = true
	case msgSubscribeWorkflow:
		if msg.RunID != "" {
			client.runs[msg.RunID] = true
		}
	case msgSubscribeMetrics:
		client.metrics = true
	case msgSubscribeHealth:
		client.health = true
	case msgUnsubscribe:
		client.all = false
		client.metrics = false
		client.health = false
		client.runs = make(map[string]bool)
	case msgPing:
		client.mu.Unlock()
		h.push(client, ServerMessage{Type: msgPong})
		return
	default:
		client.mu.Unlock()
		h.push(client, ServerMessage{Type: msgError, Payload: "unknown message type: " + msg.Type})
		return
	}
	client.mu.Unlock()
	h.push(client, ServerMessage{Type: msgSubscribed, RunID: msg.RunID})
}

func (h *Hub) writePump(client *wsClient) {
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

// push enqueues a message, dropping it if the client's buffer is full.
func (h *Hub) push(client *wsClient, msg ServerMessage) {
	select {
	case client.send <- msg:
	default:
	}
}

// RunUpdated broadcasts a run state transition.
func (h *Hub) RunUpdated(run runindex.Run) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.wantsRun(run.ID) {
			h.push(client, ServerMessage{Type: msgWorkflowUpdate, RunID: run.ID, Payload: run})
		}
	}
}

// StepUpdated broadcasts a step state transition.
func (h *Hub) StepUpdated(runID string, step runindex.StepExecution) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.wantsRun(runID) {
			h.push(client, ServerMessage{Type: msgStepUpdate, RunID: runID, Payload: step})
		}
	}
}

// Run pushes periodic metrics and health snapshots until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcastSnapshots()
		}
	}
}

func (h *Hub) broadcastSnapshots() {
	var metricsMsg, healthMsg *ServerMessage
	if h.registry != nil {
		counters, gauges, histograms := h.registry.Snapshot()
		metricsMsg = &ServerMessage{Type: msgMetricsUpdate, Payload: map[string]interface{}{
			"counters":   counters,
			"gauges":     gauges,
			"histograms": histograms,
		}}
	}
	if h.cluster != nil {
		healthMsg = &ServerMessage{Type: msgHealthUpdate, Payload: h.cluster.Health()}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.mu.Lock()
		wantsMetrics := client.metrics
		wantsHealth := client.health
		client.mu.Unlock()
		if wantsMetrics && metricsMsg != nil {
			h.push(client, *metricsMsg)
		}
		if wantsHealth && healthMsg != nil {
			h.push(client, *healthMsg)
		}
	}
}
