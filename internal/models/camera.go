package models

import (
	"fmt"
	"time"
)

type CameraKind string

const (
	CameraKindDevice  CameraKind = "device"
	CameraKindRTSP    CameraKind = "rtsp"
	CameraKindProxied CameraKind = "proxied_path"
)

// CameraSettings is one persisted camera configuration. At most one row is
// active at a time; the worker reads the active row on startup and on switch.
type CameraSettings struct {
	ID          int64      `json:"id" db:"id"`
	Kind        CameraKind `json:"kind" db:"kind"`
	Device      string     `json:"device,omitempty" db:"device"`
	IP          string     `json:"ip,omitempty" db:"ip"`
	Port        int        `json:"port" db:"port"`
	Username    string     `json:"username,omitempty" db:"username"`
	Password    string     `json:"-" db:"password"`
	Channel     int        `json:"channel" db:"channel"`
	Subtype     int        `json:"subtype" db:"subtype"`
	ProxiedPath string     `json:"proxied_path,omitempty" db:"proxied_path"`
	LineX       *int       `json:"line_x" db:"line_x"`
	DirectionIn string     `json:"direction_in" db:"direction_in"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Validate checks the kind-specific required fields and the counting tuning.
func (s *CameraSettings) Validate() error {
	switch s.Kind {
	case CameraKindDevice:
		if s.Device == "" {
			return fmt.Errorf("camera settings: device is required for kind %q", s.Kind)
		}
	case CameraKindRTSP:
		if s.IP == "" {
			return fmt.Errorf("camera settings: ip is required for kind %q", s.Kind)
		}
	case CameraKindProxied:
		if s.ProxiedPath == "" {
			return fmt.Errorf("camera settings: proxied_path is required for kind %q", s.Kind)
		}
	default:
		return fmt.Errorf("camera settings: unknown kind %q", s.Kind)
	}
	if s.LineX != nil && *s.LineX < 0 {
		return fmt.Errorf("camera settings: line_x %d must be >= 0", *s.LineX)
	}
	if s.DirectionIn != "" && s.DirectionIn != "L->R" && s.DirectionIn != "R->L" {
		return fmt.Errorf("camera settings: direction_in %q must be L->R or R->L", s.DirectionIn)
	}
	return nil
}
