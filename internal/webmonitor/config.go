package webmonitor

import (
	"os"
	"path/filepath"
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	MetricsAddr    string
	APIURL         string
	AssetsDir      string
	UploadDir      string
	MaxUploadBytes int64
	AllowedOrigins []string
	StatusInterval time.Duration
	HealthInterval time.Duration
	FrameYield     time.Duration
	DetectTimeout  time.Duration
	JPEGQuality    int
}

// DefaultConfig returns the settings used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		MetricsAddr:    ":9090",
		APIURL:         "http://localhost:5000/api",
		AssetsDir:      filepath.Clean("./web_assets"),
		UploadDir:      filepath.Join(os.TempDir(), "ppe-monitor"),
		MaxUploadBytes: 200 << 20,
		StatusInterval: 2 * time.Second,
		HealthInterval: 10 * time.Second,
		FrameYield:     16 * time.Millisecond,
		JPEGQuality:    80,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UploadDir == "" {
		c.UploadDir = def.UploadDir
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	return c
}
