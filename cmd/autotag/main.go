// autotag adds Gemini-suggested titles, descriptions and keywords to images.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/batch"
	"github.com/tstromberg/iptcgen/pkg/collect"
	"github.com/tstromberg/iptcgen/pkg/config"
	"github.com/tstromberg/iptcgen/pkg/iptc"
	"github.com/tstromberg/iptcgen/pkg/metrics"
	"github.com/tstromberg/iptcgen/pkg/suggest"
)

var (
	dryRun    = flag.Bool("n", false, "dry-run mode, don't tag things")
	overwrite = flag.Bool("o", false, "overwrite existing tags")
	outDir    = flag.String("out", "", "output directory for tagged copies")
	lang      = flag.String("lang", "en", "language for suggestions: en or ja")
	watch     = flag.Bool("watch", false, "keep running and tag new images as they appear")
)

type tagger struct {
	cfg       config.Config
	et        *exiftool.Exiftool
	suggester *suggest.Service
	writer    iptc.Writer
	metrics   *metrics.Metrics
	lang      suggest.Language
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if len(flag.Args()) == 0 {
		klog.Exitf("No input directories provided. Usage: %s -out <output_dir> <input_dir1> [input_dir2 ...]", os.Args[0])
	}
	if *outDir == "" {
		klog.Exitf("please give me an out directory to write tagged images into")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		klog.Exitf("mkdir: %v", err)
	}

	cfg := config.Load()
	if cfg.GeminiAPIKey == "" {
		klog.Exitf("GEMINI_API_KEY is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []func(*exiftool.Exiftool) error
	if p := cfg.ExiftoolPath(); p != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(p))
	}
	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		klog.Exitf("exiftool: %v", err)
	}
	defer func() {
		if err := et.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	m := metrics.Default()
	svc, err := suggest.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.UploadConcurrency, m)
	if err != nil {
		klog.Exitf("suggest: %v", err)
	}

	t := &tagger{cfg: cfg, et: et, suggester: svc, writer: cfg.Writer(m), metrics: m, lang: suggest.ParseLanguage(*lang)}

	if *watch {
		w, err := collect.NewWatcher(flag.Args()...)
		if err != nil {
			klog.Exitf("watch: %v", err)
		}
		klog.Infof("watching %v for new images", flag.Args())
		if err := w.Run(ctx, func(path string) { t.one(ctx, path) }); err != nil {
			klog.Exitf("watch: %v", err)
		}
		return
	}

	klog.Infof("Collecting images from %v ...", flag.Args())
	found, err := collect.Find(et, flag.Args()...)
	if err != nil {
		klog.Exitf("unable to collect: %v", err)
	}

	var todo []*collect.Image
	for _, i := range found {
		if !*overwrite && i.Tagged() {
			klog.Infof("%s has tags: %v", i.Path, i.Keywords)
			continue
		}
		todo = append(todo, i)
	}
	klog.Infof("Found %d images, %d need tags", len(found), len(todo))

	for start := 0; start < len(todo); start += cfg.MaxUploads {
		end := min(start+cfg.MaxUploads, len(todo))
		if err := t.chunk(ctx, todo[start:end]); err != nil {
			klog.Errorf("images %d-%d: %v", start+1, end, err)
		}
	}
	klog.Infof("autotag completed. Processed %d images", len(todo))
}

// suggest loads images and asks for suggestions, returning the write jobs for every image
// that received one.
func (t *tagger) suggest(ctx context.Context, imgs []*collect.Image) ([]batch.WriteJob, error) {
	assets := make([]iptc.Asset, 0, len(imgs))
	req := make([]suggest.Image, 0, len(imgs))
	for i, img := range imgs {
		a, err := img.Load()
		if err != nil {
			klog.Errorf("load: %v", err)
			continue
		}
		assets = append(assets, a)
		req = append(req, suggest.Image{ID: suggest.FallbackID(i), Name: a.Filename, Data: a.Data})
	}

	res, err := t.suggester.Suggest(ctx, req, t.lang)
	if err != nil {
		return nil, err
	}

	var jobs []batch.WriteJob
	for i, o := range res.Outcomes {
		if o.Status != batch.Success {
			klog.Warningf("no suggestion for %s: %v", assets[i].Filename, o.Err)
			continue
		}
		klog.Infof("%s: %q %v", assets[i].Filename, o.Value.Title, o.Value.Tags)
		jobs = append(jobs, batch.WriteJob{Asset: assets[i], Payload: o.Value.Payload()})
	}
	return jobs, nil
}

// chunk tags up to MaxUploads images and saves the results as one zip.
func (t *tagger) chunk(ctx context.Context, imgs []*collect.Image) error {
	jobs, err := t.suggest(ctx, imgs)
	if err != nil {
		return err
	}
	if *dryRun || len(jobs) == 0 {
		return nil
	}

	res, err := batch.WriteArchive(ctx, t.writer, jobs, t.cfg.WriteConcurrency, t.metrics)
	if err != nil {
		return err
	}
	dst := filepath.Join(*outDir, batch.ArchiveName(time.Now()))
	if err := os.WriteFile(dst, res.Archive, 0o644); err != nil {
		return err
	}
	klog.Infof("wrote %s: %s", dst, res.Summary)
	return nil
}

// one tags a single newly-seen image and saves the copy next to the others in outDir.
func (t *tagger) one(ctx context.Context, path string) {
	img, err := collect.Read(path, t.et)
	if err != nil {
		klog.Errorf("read: %v", err)
		return
	}
	if !*overwrite && img.Tagged() {
		klog.Infof("%s has tags: %v", path, img.Keywords)
		return
	}

	jobs, err := t.suggest(ctx, []*collect.Image{img})
	if err != nil {
		klog.Errorf("%s: %v", path, err)
		return
	}
	if *dryRun || len(jobs) == 0 {
		return
	}

	bs, err := t.writer.Write(ctx, jobs[0].Asset, jobs[0].Payload)
	if err != nil {
		klog.Errorf("write %s: %v", path, err)
		return
	}
	dst := filepath.Join(*outDir, iptc.DownloadName(path))
	if err := os.WriteFile(dst, bs, 0o644); err != nil {
		klog.Errorf("save: %v", err)
		return
	}
	klog.Infof("wrote %s", dst)
}
