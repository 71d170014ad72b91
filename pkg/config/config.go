// Package config loads environment-level settings for iptcgen.
package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/iptc"
	"github.com/tstromberg/iptcgen/pkg/metrics"
	"github.com/tstromberg/iptcgen/pkg/suggest"
)

// Config holds configuration for iptcgen.
type Config struct {
	Port string

	// MaxUploads is the largest batch accepted per request.
	MaxUploads int
	// MaxFileSize is the largest accepted image, in bytes.
	MaxFileSize int64
	// UploadConcurrency bounds parallel uploads to Gemini.
	UploadConcurrency int
	// WriteConcurrency bounds parallel metadata writes. Each write starts an exiftool process.
	WriteConcurrency int

	GeminiAPIKey string
	GeminiModel  string

	// RemoteURL, when set, delegates writes to another iptcd.
	RemoteURL    string
	RemoteAPIKey string

	ExiftoolVendorPath string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:               "8080",
		MaxUploads:         40,
		MaxFileSize:        4718592,
		UploadConcurrency:  10,
		WriteConcurrency:   5,
		GeminiModel:        suggest.DefaultModel,
		ExiftoolVendorPath: iptc.DefaultVendorPath,
	}
}

// Load reads .env files (if present) and the environment on top of Defaults.
// Values from .env.local take precedence over .env; the environment beats both.
func Load() Config {
	loadEnvFiles(".env.local", ".env")
	return FromEnv(os.Getenv)
}

// loadEnvFiles loads each file that exists, earliest first. godotenv never overwrites a
// variable that is already set, so earlier files win.
func loadEnvFiles(paths ...string) {
	for _, p := range paths {
		err := godotenv.Load(p)
		switch {
		case err == nil:
			klog.V(1).Infof("loaded %s", p)
		case errors.Is(err, fs.ErrNotExist):
		default:
			klog.Warningf("failed to load %s: %v", p, err)
		}
	}
}

// FromEnv builds a Config from a getenv-style lookup.
func FromEnv(getenv func(string) string) Config {
	c := Defaults()
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			*dst = v
		}
	}
	num := func(k string, dst *int64) {
		v := strings.TrimSpace(getenv(k))
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			klog.Warningf("ignoring %s=%q: want a positive integer", k, v)
			return
		}
		*dst = n
	}
	integer := func(k string, dst *int) {
		n := int64(*dst)
		num(k, &n)
		*dst = int(n)
	}

	str("PORT", &c.Port)
	integer("MAX_UPLOADS", &c.MaxUploads)
	num("MAX_FILE_SIZE", &c.MaxFileSize)
	integer("UPLOAD_CONCURRENCY", &c.UploadConcurrency)
	integer("WRITE_CONCURRENCY", &c.WriteConcurrency)
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("GEMINI_MODEL", &c.GeminiModel)
	str("IPTC_REMOTE_URL", &c.RemoteURL)
	str("IPTC_API_KEY", &c.RemoteAPIKey)
	str("EXIFTOOL_VENDOR_PATH", &c.ExiftoolVendorPath)

	klog.V(1).Infof("config: port=%s max_uploads=%d max_file_size=%d upload_concurrency=%d write_concurrency=%d remote=%q",
		c.Port, c.MaxUploads, c.MaxFileSize, c.UploadConcurrency, c.WriteConcurrency, c.RemoteURL)
	return c
}

// Writer returns the write pipeline for the configured execution location: a remote
// iptcd when RemoteURL is set, otherwise a local exiftool.
func (c Config) Writer(m *metrics.Metrics) iptc.Writer {
	if c.RemoteURL != "" {
		klog.Infof("delegating metadata writes to %s", c.RemoteURL)
		return iptc.NewRemote(c.RemoteURL, c.RemoteAPIKey)
	}

	l := iptc.NewLocal(c.ExiftoolPath(), m)
	l.MaxSize = c.MaxFileSize
	return l
}

// ExiftoolPath returns the discovered exiftool binary, or "" to let exiftool be found on $PATH.
func (c Config) ExiftoolPath() string {
	root, err := os.Getwd()
	if err != nil {
		klog.Warningf("getwd: %v", err)
	}
	return iptc.Discover(iptc.Platform{GOOS: runtime.GOOS, Root: root, VendorPath: c.ExiftoolVendorPath}, nil)
}
