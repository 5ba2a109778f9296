package dto

// SystemStatus is the worker status snapshot.
type SystemStatus struct {
	CameraStatus  string  `json:"camera_status"` // offline, initializing, online
	ModelLoaded   bool    `json:"model_loaded"`
	FPS           float64 `json:"fps"`
	CameraFPS     float64 `json:"camera_fps"`
	ActiveTracks  int     `json:"active_tracks"`
	InCount       int64   `json:"in_count"`
	OutCount      int64   `json:"out_count"`
	ConfigID      int64   `json:"config_id"`
	ReIDEnabled   bool    `json:"reid_enabled"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type HealthResponse struct {
	OK         bool              `json:"ok"`
	StreamMode string            `json:"stream_mode"`
	VPSStatus  string            `json:"vps_status,omitempty"`
	Bridges    map[string]string `json:"bridges,omitempty"`
}

// StatusMessage is the payload of a "status" bus message.
type StatusMessage struct {
	Message    string `json:"message"`
	Overflowed bool   `json:"overflowed,omitempty"`
}
