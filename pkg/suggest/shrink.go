package suggest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	_ "golang.org/x/image/webp"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/iptc"
)

// PreviewQuality is the JPEG quality of downscaled previews.
var PreviewQuality = 85

// shrink returns img with its longest edge scaled down to maxEdge, re-encoded as JPEG.
// Images already small enough, or maxEdge <= 0, are returned unchanged.
func shrink(img Image, maxEdge int) (Image, error) {
	if maxEdge <= 0 {
		return img, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return img, fmt.Errorf("decode config %s: %w", img.Name, err)
	}
	if cfg.Width <= maxEdge && cfg.Height <= maxEdge {
		return img, nil
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return img, fmt.Errorf("%s has no pixels", img.Name)
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return img, fmt.Errorf("decode %s: %w", img.Name, err)
	}

	x, y := maxEdge, maxEdge
	if cfg.Width >= cfg.Height {
		scale := float64(cfg.Width) / float64(maxEdge)
		y = max(1, int(float64(cfg.Height)/scale))
	} else {
		scale := float64(cfg.Height) / float64(maxEdge)
		x = max(1, int(float64(cfg.Width)/scale))
	}

	klog.V(1).Infof("shrinking %s from %dx%d to %dx%d", img.Name, cfg.Width, cfg.Height, x, y)
	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(PreviewQuality)(&buf, transform.Resize(src, x, y, transform.Lanczos)); err != nil {
		return img, fmt.Errorf("encode %s: %w", img.Name, err)
	}

	img.Data = buf.Bytes()
	img.ContentType = iptc.JPEGMIME
	return img, nil
}
