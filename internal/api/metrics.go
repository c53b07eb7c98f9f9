package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemInfo is the body of GET /info.
type SystemInfo struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	Device        DeviceMetrics  `json:"device"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected      bool   `json:"connected"`
	DroppedUpdates uint64 `json:"dropped_updates"`
	BrokerSessions *int   `json:"broker_sessions,omitempty"` // embedded broker only
}

// DeviceMetrics summarises the physical device link.
type DeviceMetrics struct {
	Status     string    `json:"status"` // "connected" or "disconnected"
	LastUpdate time.Time `json:"last_update"`
}

// handleInfo returns process and device link information.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := s.store.Snapshot()
	status := "disconnected"
	if snap.DeviceReachable {
		status = "connected"
	}

	info := SystemInfo{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Device: DeviceMetrics{
			Status:     status,
			LastUpdate: snap.LastUpdate,
		},
	}

	// MQTT metrics (if available)
	if s.mqtt != nil {
		info.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
		if s.mirror != nil {
			info.MQTT.DroppedUpdates = s.mirror.Dropped()
		}
		if s.broker != nil {
			n := s.broker.Sessions()
			info.MQTT.BrokerSessions = &n
		}
	}

	writeJSON(w, http.StatusOK, info)
}
