package iptc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/metrics"
)

// Asset is an uploaded image, as received.
type Asset struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Writer writes a Payload into an Asset and returns the resulting JPEG bytes.
type Writer interface {
	Write(ctx context.Context, a Asset, p Payload) ([]byte, error)
}

// Local writes metadata with an exiftool process on this host.
type Local struct {
	// Start launches exiftool for each write.
	Start StartFunc
	// TempDir holds staged copies. Defaults to os.TempDir().
	TempDir string
	// MaxSize is the largest accepted upload in bytes; zero disables the check.
	MaxSize int64
	// Metrics is optional.
	Metrics *metrics.Metrics

	readFile func(string) ([]byte, error)
}

// NewLocal returns a Local writer using the exiftool binary at path ("" for PATH lookup).
func NewLocal(path string, m *metrics.Metrics) *Local {
	return &Local{Start: ExiftoolStarter(path), Metrics: m}
}

// Write validates and normalizes the asset, stages it, writes p into the staged copy and
// returns its bytes. The staged copy is always removed; the caller's buffer is never
// modified.
func (l *Local) Write(ctx context.Context, a Asset, p Payload) (out []byte, err error) {
	start := time.Now()
	defer func() {
		l.Metrics.ObserveWrite(err, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := Resolve(a.ContentType, a.Filename)
	if f == Unsupported {
		return nil, fmt.Errorf("%s (%q): %w", a.Filename, a.ContentType, ErrUnsupportedFormat)
	}
	if l.MaxSize > 0 && int64(len(a.Data)) > l.MaxSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", a.Filename, len(a.Data), ErrPayloadTooLarge)
	}

	bs, err := Normalize(a.Data, f)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", a.Filename, err)
	}

	path, err := l.stage(bs)
	if err != nil {
		return nil, err
	}
	defer unstage(path)

	fields := p.Fields()
	if len(fields) > 0 {
		if err := l.apply(path, fields); err != nil {
			return nil, err
		}
	} else {
		klog.V(1).Infof("%s: no metadata to write", a.Filename)
	}

	read := l.readFile
	if read == nil {
		read = os.ReadFile
	}
	out, err = read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read back %s: %w", ErrStaging, path, err)
	}
	klog.V(1).Infof("%s: wrote %d fields (%d -> %d bytes)", a.Filename, len(fields), len(a.Data), len(out))
	return out, nil
}

// stage writes bs to a uniquely named file and returns its path.
func (l *Local) stage(bs []byte) (string, error) {
	dir := l.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("iptc-%s.jpg", uuid.NewString()))
	if err := os.WriteFile(path, bs, 0o600); err != nil {
		// a partial file may have been created
		unstage(path)
		return "", fmt.Errorf("%w: stage: %w", ErrStaging, err)
	}
	return path, nil
}

func unstage(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		klog.Warningf("unable to remove staged file %s: %v", path, err)
	}
}

// apply runs one exiftool session against the staged file.
func (l *Local) apply(path string, fields FieldMap) error {
	s := NewSession(l.Start)
	if err := s.Open(); err != nil {
		return err
	}
	defer s.Close()
	l.Metrics.SessionOpened()

	return s.Write(path, fields)
}
