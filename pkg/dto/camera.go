package dto

type CameraSettingsRequest struct {
	Kind        string `json:"kind" binding:"required,oneof=device rtsp proxied_path"`
	Device      string `json:"device"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Channel     int    `json:"channel"`
	Subtype     int    `json:"subtype"`
	ProxiedPath string `json:"proxied_path"`
	LineX       *int   `json:"line_x"`
	DirectionIn string `json:"direction_in" binding:"omitempty,oneof=L->R R->L"`
}

type CameraSettingsResponse struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Device      string `json:"device,omitempty"`
	IP          string `json:"ip,omitempty"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	Channel     int    `json:"channel"`
	Subtype     int    `json:"subtype"`
	ProxiedPath string `json:"proxied_path,omitempty"`
	LineX       *int   `json:"line_x"`
	DirectionIn string `json:"direction_in"`
	IsActive    bool   `json:"is_active"`
	SourceURL   string `json:"source_url"` // credentials masked
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type CameraSettingsListResponse struct {
	Settings []CameraSettingsResponse `json:"settings"`
	Total    int                      `json:"total"`
}

// SwitchRequest changes the live source. Either a stored settings row or a
// raw source URL; Reset additionally zeroes the counters after the swap.
type SwitchRequest struct {
	SettingsID *int64 `json:"settings_id"`
	Source     string `json:"source"`
	Reset      bool   `json:"reset"`
}

type ResetRequest struct {
	ClearGallery bool `json:"clear_gallery"`
}
