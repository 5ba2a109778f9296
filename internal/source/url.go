package source

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/your-org/peoplecounter/internal/models"
)

const defaultProxyBase = "rtsp://localhost:8554"

// StreamURL builds the ffmpeg input for a camera configuration.
//
// Dahua-style RTSP cameras use
// rtsp://user:pass@ip:port/cam/realmonitor?channel=C&subtype=S. When the
// camera host is the local machine the stream is assumed to be re-published
// by the MediaMTX proxy and the proxy path is used instead, so ffmpeg and the
// dashboard share one upstream connection.
func StreamURL(cs *models.CameraSettings, proxyBase string) (string, error) {
	if proxyBase == "" {
		proxyBase = defaultProxyBase
	}
	proxyBase = strings.TrimRight(proxyBase, "/")

	switch cs.Kind {
	case models.CameraKindDevice:
		if cs.Device == "" {
			return "", fmt.Errorf("device camera without device path")
		}
		return cs.Device, nil

	case models.CameraKindRTSP:
		if cs.IP == "" {
			return "", fmt.Errorf("rtsp camera without ip")
		}
		if cs.IP == "localhost" || cs.IP == "127.0.0.1" {
			return proxyBase + "/dahua", nil
		}
		port := cs.Port
		if port == 0 {
			port = 554
		}
		u := url.URL{
			Scheme:   "rtsp",
			Host:     fmt.Sprintf("%s:%d", cs.IP, port),
			Path:     "/cam/realmonitor",
			RawQuery: fmt.Sprintf("channel=%d&subtype=%d", cs.Channel, cs.Subtype),
		}
		if cs.Username != "" {
			u.User = url.UserPassword(cs.Username, cs.Password)
		}
		return u.String(), nil

	case models.CameraKindProxied:
		if cs.ProxiedPath == "" {
			return "", fmt.Errorf("proxied camera without path")
		}
		return proxyBase + "/" + strings.TrimLeft(cs.ProxiedPath, "/"), nil

	default:
		return "", fmt.Errorf("unknown camera kind %q", cs.Kind)
	}
}

// MaskCredentials hides the password of a URL for logging. Non-URL inputs
// (device paths) pass through unchanged.
func MaskCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
