package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/peoplecounter/internal/models"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Camera    CameraConfig    `yaml:"camera"`
	Counting  CountingConfig  `yaml:"counting"`
	Detection DetectionConfig `yaml:"detection"`
	ReID      ReIDConfig      `yaml:"reid"`
	MinIO     MinIOConfig     `yaml:"minio"`
	NATS      NATSConfig      `yaml:"nats"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Stream    StreamConfig    `yaml:"stream"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"` // dev convenience; hashed at startup when password_hash is empty
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// DatabaseConfig selects the store backend: a non-empty URL means Postgres,
// otherwise an embedded SQLite database at Path.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Path     string `yaml:"path"`
	MaxConns int    `yaml:"max_conns"`
}

type CameraConfig struct {
	Kind        string `yaml:"kind"` // device, rtsp, proxied_path
	Device      string `yaml:"device"`
	IP          string `yaml:"ip"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Channel     int    `yaml:"channel"`
	Subtype     int    `yaml:"subtype"`
	ProxiedPath string `yaml:"proxied_path"`
	ProxyBase   string `yaml:"proxy_base"`
	FPSHint     int    `yaml:"fps_hint"`
}

type CountingConfig struct {
	LineX               *int          `yaml:"line_x"` // nil: frame width / 2 at startup
	DirectionIn         string        `yaml:"direction_in"`
	HysteresisPx        int           `yaml:"hysteresis_px"`
	AreaChangeThreshold float64       `yaml:"area_change_threshold"`
	MaxAge              time.Duration `yaml:"max_age"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
}

type DetectionConfig struct {
	ModelPath           string  `yaml:"model_path"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IOUThreshold        float64 `yaml:"iou_threshold"`
	ResizeWidth         int     `yaml:"resize_width"`
	InputSize           int     `yaml:"input_size"`
}

type ReIDConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxPersons          int     `yaml:"max_persons"`
	UpdateEmbeddings    bool    `yaml:"update_embeddings"`
	GalleryPath         string  `yaml:"gallery_path"`
	MaxAgeDays          int     `yaml:"max_age_days"`
	ModelPath           string  `yaml:"model_path"` // optional ONNX embedder; empty uses the histogram embedder
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func (m MinIOConfig) Enabled() bool { return m.Endpoint != "" }

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

func (n NATSConfig) Enabled() bool { return n.URL != "" }

type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

func (m MQTTConfig) Enabled() bool { return m.Host != "" }

type StreamConfig struct {
	Mode          string        `yaml:"mode"` // mjpeg, hls, webrtc
	HLSURL        string        `yaml:"hls_url"`
	WebRTCURL     string        `yaml:"webrtc_url"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type AnalyticsConfig struct {
	Timezone string `yaml:"timezone"` // IANA name; empty means server local
}

// Load reads config from a YAML file and applies PC_ environment overrides.
// A missing file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Auth.Username == "" {
		cfg.Auth.Username = "admin"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/counter.db"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Camera.Kind == "" {
		cfg.Camera.Kind = string(models.CameraKindDevice)
	}
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
	}
	if cfg.Camera.Port == 0 {
		cfg.Camera.Port = 554
	}
	if cfg.Camera.Channel == 0 {
		cfg.Camera.Channel = 1
	}
	if cfg.Camera.FPSHint == 0 {
		cfg.Camera.FPSHint = 15
	}
	if cfg.Counting.DirectionIn == "" {
		cfg.Counting.DirectionIn = "L->R"
	}
	if cfg.Counting.HysteresisPx == 0 {
		cfg.Counting.HysteresisPx = 5
	}
	if cfg.Counting.AreaChangeThreshold == 0 {
		cfg.Counting.AreaChangeThreshold = 0.10
	}
	if cfg.Counting.MaxAge == 0 {
		cfg.Counting.MaxAge = 5 * time.Second
	}
	if cfg.Counting.CleanupInterval == 0 {
		cfg.Counting.CleanupInterval = 10 * time.Second
	}
	if cfg.Detection.ModelPath == "" {
		cfg.Detection.ModelPath = "models/yolov8n.onnx"
	}
	if cfg.Detection.ConfidenceThreshold == 0 {
		cfg.Detection.ConfidenceThreshold = 0.45
	}
	if cfg.Detection.IOUThreshold == 0 {
		cfg.Detection.IOUThreshold = 0.5
	}
	if cfg.Detection.ResizeWidth == 0 {
		cfg.Detection.ResizeWidth = 960
	}
	if cfg.Detection.InputSize == 0 {
		cfg.Detection.InputSize = 640
	}
	if cfg.ReID.SimilarityThreshold == 0 {
		cfg.ReID.SimilarityThreshold = 0.65
	}
	if cfg.ReID.MaxPersons == 0 {
		cfg.ReID.MaxPersons = 100
	}
	if cfg.ReID.GalleryPath == "" {
		cfg.ReID.GalleryPath = "data/gallery.json"
	}
	if cfg.ReID.MaxAgeDays == 0 {
		cfg.ReID.MaxAgeDays = 30
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "pc-snapshots"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "pc.events.crossing"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "people-counter/events"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "peoplecounter"
	}
	if cfg.Stream.Mode == "" {
		cfg.Stream.Mode = "mjpeg"
	}
	if cfg.Stream.CheckInterval == 0 {
		cfg.Stream.CheckInterval = 15 * time.Second
	}
}

// Validate rejects configurations the engine cannot run with. It is also
// applied to reconfiguration requests, which keep the prior config on error.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret is required")
	}
	if err := ValidateCounting(c.Counting); err != nil {
		return err
	}
	switch models.CameraKind(c.Camera.Kind) {
	case models.CameraKindDevice, models.CameraKindRTSP, models.CameraKindProxied:
	default:
		return fmt.Errorf("config: unknown camera kind %q", c.Camera.Kind)
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence_threshold %v outside [0,1]", c.Detection.ConfidenceThreshold)
	}
	if c.Detection.IOUThreshold < 0 || c.Detection.IOUThreshold > 1 {
		return fmt.Errorf("config: iou_threshold %v outside [0,1]", c.Detection.IOUThreshold)
	}
	if c.ReID.SimilarityThreshold < 0 || c.ReID.SimilarityThreshold > 1 {
		return fmt.Errorf("config: reid similarity_threshold %v outside [0,1]", c.ReID.SimilarityThreshold)
	}
	if c.Analytics.Timezone != "" {
		if _, err := time.LoadLocation(c.Analytics.Timezone); err != nil {
			return fmt.Errorf("config: analytics timezone: %w", err)
		}
	}
	return nil
}

// ValidateCounting checks the line and gate tuning shared by startup config
// and runtime reconfiguration.
func ValidateCounting(c CountingConfig) error {
	if c.LineX != nil && *c.LineX < 0 {
		return fmt.Errorf("config: line_x %d must be >= 0", *c.LineX)
	}
	if c.DirectionIn != "L->R" && c.DirectionIn != "R->L" {
		return fmt.Errorf("config: direction_in %q must be L->R or R->L", c.DirectionIn)
	}
	if c.HysteresisPx < 0 {
		return fmt.Errorf("config: hysteresis_px %d must be >= 0", c.HysteresisPx)
	}
	if c.AreaChangeThreshold < 0 || c.AreaChangeThreshold > 1 {
		return fmt.Errorf("config: area_change_threshold %v outside [0,1]", c.AreaChangeThreshold)
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("config: max_age must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("config: cleanup_interval must be positive")
	}
	return nil
}

// CameraSettings converts the static camera section into an unsaved settings
// record, used when the database holds no active row yet.
func (c *Config) CameraSettings() models.CameraSettings {
	return models.CameraSettings{
		Kind:        models.CameraKind(c.Camera.Kind),
		Device:      c.Camera.Device,
		IP:          c.Camera.IP,
		Port:        c.Camera.Port,
		Username:    c.Camera.Username,
		Password:    c.Camera.Password,
		Channel:     c.Camera.Channel,
		Subtype:     c.Camera.Subtype,
		ProxiedPath: c.Camera.ProxiedPath,
		LineX:       c.Counting.LineX,
		DirectionIn: c.Counting.DirectionIn,
	}
}

// ApplyCameraSettings overlays a persisted settings row onto the runtime
// camera and counting sections.
func (c *Config) ApplyCameraSettings(s *models.CameraSettings) {
	c.Camera.Kind = string(s.Kind)
	if s.Device != "" {
		c.Camera.Device = s.Device
	}
	if s.IP != "" {
		c.Camera.IP = s.IP
	}
	if s.Port != 0 {
		c.Camera.Port = s.Port
	}
	c.Camera.Username = s.Username
	c.Camera.Password = s.Password
	if s.Channel != 0 {
		c.Camera.Channel = s.Channel
	}
	c.Camera.Subtype = s.Subtype
	if s.ProxiedPath != "" {
		c.Camera.ProxiedPath = s.ProxiedPath
	}
	if s.LineX != nil {
		c.Counting.LineX = s.LineX
	}
	if s.DirectionIn != "" {
		c.Counting.DirectionIn = s.DirectionIn
	}
}

func applyEnvOverrides(cfg *Config) {
	envStr("PC_HOST", &cfg.Server.Host)
	envInt("PC_PORT", &cfg.Server.Port)
	envStr("PC_LOG_LEVEL", &cfg.Logging.Level)
	envStr("PC_LOG_FORMAT", &cfg.Logging.Format)
	envStr("PC_AUTH_USERNAME", &cfg.Auth.Username)
	envStr("PC_AUTH_PASSWORD", &cfg.Auth.Password)
	envStr("PC_AUTH_PASSWORD_HASH", &cfg.Auth.PasswordHash)
	envStr("PC_JWT_SECRET", &cfg.Auth.JWTSecret)
	envDuration("PC_TOKEN_TTL", &cfg.Auth.TokenTTL)
	envStr("PC_DB_URL", &cfg.Database.URL)
	envStr("PC_DB_PATH", &cfg.Database.Path)
	envInt("PC_DB_MAX_CONNS", &cfg.Database.MaxConns)
	envStr("PC_CAMERA_KIND", &cfg.Camera.Kind)
	envStr("PC_CAMERA_DEVICE", &cfg.Camera.Device)
	envStr("PC_CAMERA_IP", &cfg.Camera.IP)
	envInt("PC_CAMERA_PORT", &cfg.Camera.Port)
	envStr("PC_CAMERA_USERNAME", &cfg.Camera.Username)
	envStr("PC_CAMERA_PASSWORD", &cfg.Camera.Password)
	envInt("PC_CAMERA_CHANNEL", &cfg.Camera.Channel)
	envInt("PC_CAMERA_SUBTYPE", &cfg.Camera.Subtype)
	envStr("PC_CAMERA_PROXIED_PATH", &cfg.Camera.ProxiedPath)
	envStr("PC_CAMERA_PROXY_BASE", &cfg.Camera.ProxyBase)
	envIntPtr("PC_LINE_X", &cfg.Counting.LineX)
	envStr("PC_DIRECTION_IN", &cfg.Counting.DirectionIn)
	envInt("PC_HYSTERESIS_PX", &cfg.Counting.HysteresisPx)
	envFloat("PC_AREA_CHANGE_THRESHOLD", &cfg.Counting.AreaChangeThreshold)
	envDuration("PC_TRACK_MAX_AGE", &cfg.Counting.MaxAge)
	envDuration("PC_CLEANUP_INTERVAL", &cfg.Counting.CleanupInterval)
	envStr("PC_MODEL_PATH", &cfg.Detection.ModelPath)
	envFloat("PC_CONFIDENCE_THRESHOLD", &cfg.Detection.ConfidenceThreshold)
	envFloat("PC_IOU_THRESHOLD", &cfg.Detection.IOUThreshold)
	envInt("PC_RESIZE_WIDTH", &cfg.Detection.ResizeWidth)
	envBool("PC_REID_ENABLED", &cfg.ReID.Enabled)
	envFloat("PC_REID_SIMILARITY_THRESHOLD", &cfg.ReID.SimilarityThreshold)
	envInt("PC_REID_MAX_PERSONS", &cfg.ReID.MaxPersons)
	envBool("PC_REID_UPDATE_EMBEDDINGS", &cfg.ReID.UpdateEmbeddings)
	envStr("PC_REID_GALLERY_PATH", &cfg.ReID.GalleryPath)
	envInt("PC_REID_MAX_AGE_DAYS", &cfg.ReID.MaxAgeDays)
	envStr("PC_REID_MODEL_PATH", &cfg.ReID.ModelPath)
	envStr("PC_MINIO_ENDPOINT", &cfg.MinIO.Endpoint)
	envStr("PC_MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey)
	envStr("PC_MINIO_SECRET_KEY", &cfg.MinIO.SecretKey)
	envStr("PC_MINIO_BUCKET", &cfg.MinIO.Bucket)
	envBool("PC_MINIO_USE_SSL", &cfg.MinIO.UseSSL)
	envStr("PC_NATS_URL", &cfg.NATS.URL)
	envStr("PC_NATS_SUBJECT", &cfg.NATS.Subject)
	envStr("PC_MQTT_HOST", &cfg.MQTT.Host)
	envInt("PC_MQTT_PORT", &cfg.MQTT.Port)
	envStr("PC_MQTT_USERNAME", &cfg.MQTT.Username)
	envStr("PC_MQTT_PASSWORD", &cfg.MQTT.Password)
	envStr("PC_MQTT_TOPIC", &cfg.MQTT.Topic)
	envStr("PC_MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	envStr("PC_STREAM_MODE", &cfg.Stream.Mode)
	envStr("PC_STREAM_HLS_URL", &cfg.Stream.HLSURL)
	envStr("PC_STREAM_WEBRTC_URL", &cfg.Stream.WebRTCURL)
	envDuration("PC_STREAM_CHECK_INTERVAL", &cfg.Stream.CheckInterval)
	envStr("PC_TIMEZONE", &cfg.Analytics.Timezone)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envIntPtr(key string, dst **int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = &n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
