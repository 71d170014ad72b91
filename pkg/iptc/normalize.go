package iptc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/anthonynsimon/bild/imgio"
	_ "golang.org/x/image/webp"
	"k8s.io/klog/v2"
)

// Quality is the JPEG quality used when transcoding PNG and WebP uploads.
var Quality = 95

// Normalize returns bs encoded as JPEG. JPEG input is returned untouched so that it
// never pays a recompression loss.
func Normalize(bs []byte, f Format) ([]byte, error) {
	switch f {
	case JPEG:
		return bs, nil
	case PNG, WebP:
	default:
		return nil, fmt.Errorf("normalize %q: %w", f, ErrUnsupportedFormat)
	}

	img, kind, err := image.Decode(bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCodec, f, err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrCodec, kind)
	}

	klog.V(1).Infof("transcoding %s (%v) to jpeg at q=%d", kind, img.Bounds(), Quality)
	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(Quality)(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode jpeg: %w", ErrCodec, err)
	}
	return buf.Bytes(), nil
}
