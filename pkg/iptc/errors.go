package iptc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned for uploads that are not JPEG, PNG or WebP.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrPayloadTooLarge is returned when an upload exceeds the configured size limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrCodec wraps failures to decode or re-encode an image.
	ErrCodec = errors.New("codec error")
	// ErrWriterOpen wraps failures to start the exiftool process.
	ErrWriterOpen = errors.New("writer open failed")
	// ErrWriterWrite wraps failures reported by exiftool while writing.
	ErrWriterWrite = errors.New("writer write failed")
	// ErrStaging wraps filesystem failures on the staged copy.
	ErrStaging = errors.New("staging io error")
	// ErrSessionState is returned when a Session is used out of order.
	ErrSessionState = errors.New("invalid session state")
)

// RemoteError is a failure reported by a remote write endpoint.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote write: %d: %s", e.Status, e.Message)
}

// Is lets remote 400 and 413 responses match the local sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrUnsupportedFormat:
		return e.Status == 400
	case ErrPayloadTooLarge:
		return e.Status == 413
	}
	return false
}
