// iptcwrite writes a title, description and keywords into one image and saves a JPEG copy.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/config"
	"github.com/tstromberg/iptcgen/pkg/iptc"
	"github.com/tstromberg/iptcgen/pkg/metrics"
)

var (
	title       = flag.String("title", "", "title to write")
	description = flag.String("description", "", "description to write")
	tags        = flag.String("tags", "", "comma-separated keywords to write")
	outDir      = flag.String("out", ".", "directory to save the tagged copy into")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if flag.NArg() != 1 {
		klog.Exitf("usage: %s [-title T] [-description D] [-tags a,b] [-out dir] <image>", os.Args[0])
	}
	in := flag.Arg(0)

	bs, err := os.ReadFile(in)
	if err != nil {
		klog.Exitf("read: %v", err)
	}

	cfg := config.Load()
	w := cfg.Writer(metrics.Default())

	p := iptc.NewPayload(*title, *description, *tags)
	out, err := w.Write(context.Background(), iptc.Asset{Data: bs, Filename: filepath.Base(in)}, p)
	if err != nil {
		klog.Exitf("write %s: %v", in, err)
	}

	dst := filepath.Join(*outDir, iptc.DownloadName(in))
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		klog.Exitf("save: %v", err)
	}
	klog.Infof("wrote %s (%d bytes)", dst, len(out))
}
