package iptc

import (
	"fmt"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

// SessionState is the lifecycle position of a Session.
type SessionState int

const (
	Unopened SessionState = iota
	Open
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Engine is the part of *exiftool.Exiftool a Session drives.
type Engine interface {
	WriteMetadata(fms []exiftool.FileMetadata)
	Close() error
}

// StartFunc launches an exiftool process.
type StartFunc func() (Engine, error)

// ExiftoolStarter returns a StartFunc for the exiftool binary at path, or for the
// exiftool found in PATH when path is empty.
func ExiftoolStarter(path string) StartFunc {
	return func() (Engine, error) {
		var opts []func(*exiftool.Exiftool) error
		if path != "" {
			opts = append(opts, exiftool.SetExiftoolBinaryPath(path))
		}
		// go-exiftool passes -overwrite_original unless BackupOriginal is set.
		et, err := exiftool.NewExiftool(opts...)
		if err != nil {
			return nil, err
		}
		return et, nil
	}
}

// Session is a single open/write/close cycle against an exiftool process.
// A Session accepts one write, is not reusable and is not safe for concurrent use.
type Session struct {
	start   StartFunc
	state   SessionState
	e       Engine
	written bool
}

// NewSession returns an unopened session.
func NewSession(start StartFunc) *Session {
	return &Session{start: start}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return s.state
}

// Open starts the exiftool process.
func (s *Session) Open() error {
	if s.state != Unopened {
		return fmt.Errorf("open %s session: %w", s.state, ErrSessionState)
	}
	e, err := s.start()
	if err != nil {
		s.state = Closed
		return fmt.Errorf("%w: %w", ErrWriterOpen, err)
	}
	s.e = e
	s.state = Open
	return nil
}

// Write applies fields to the file at path in place. Only the first Write of an open
// session is issued.
func (s *Session) Write(path string, fields FieldMap) error {
	if s.state != Open {
		return fmt.Errorf("write %s session: %w", s.state, ErrSessionState)
	}
	if s.written {
		return fmt.Errorf("second write to %s: %w", path, ErrSessionState)
	}

	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			fm.SetString(k, val)
		case []string:
			fm.SetStrings(k, val)
		default:
			return fmt.Errorf("%w: field %s has unsupported type %T", ErrWriterWrite, k, v)
		}
	}

	fms := []exiftool.FileMetadata{fm}
	s.written = true
	s.e.WriteMetadata(fms)
	if fms[0].Err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriterWrite, path, fms[0].Err)
	}
	return nil
}

// Close stops the exiftool process. It is safe to call more than once; errors are
// logged and dropped.
func (s *Session) Close() {
	if s.state == Closed {
		return
	}
	s.state = Closed
	if s.e == nil {
		return
	}
	if err := s.e.Close(); err != nil {
		klog.Warningf("failed to close exiftool: %v", err)
	}
	s.e = nil
}
