package dto

type EventResponse struct {
	ID          int64  `json:"id"`
	Timestamp   string `json:"timestamp"`
	TrackID     int64  `json:"track_id"`
	PersonID    string `json:"person_id,omitempty"`
	Direction   string `json:"direction"`
	SnapshotURL string `json:"snapshot_url,omitempty"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

// StatsResponse is the live counter snapshot, also the payload of the
// periodic "stats" bus message.
type StatsResponse struct {
	InCount      int64   `json:"in_count"`
	OutCount     int64   `json:"out_count"`
	ActiveTracks int     `json:"active_tracks"`
	CameraStatus string  `json:"camera_status"`
	FPS          float64 `json:"fps"`
}
