// iptcd serves the iptcgen HTTP API: metadata writes, zip batches and Gemini suggestions.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/config"
	"github.com/tstromberg/iptcgen/pkg/metrics"
	"github.com/tstromberg/iptcgen/pkg/server"
	"github.com/tstromberg/iptcgen/pkg/suggest"
)

var (
	addr   = flag.String("addr", "", "address to listen on (default: :$PORT)")
	remote = flag.String("remote", "", "delegate metadata writes to this iptcd base URL")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg := config.Load()
	if *remote != "" {
		cfg.RemoteURL = *remote
	}
	listen := *addr
	if listen == "" {
		listen = net.JoinHostPort("", cfg.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()
	w := cfg.Writer(m)

	var sg server.Suggester
	if cfg.GeminiAPIKey != "" {
		svc, err := suggest.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.UploadConcurrency, m)
		if err != nil {
			klog.Exitf("suggest: %v", err)
		}
		sg = svc
	} else {
		klog.Warningf("GEMINI_API_KEY is not set; /api/suggest is disabled")
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           server.New(cfg, w, sg, m).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		klog.Infof("listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Exitf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	klog.Infof("shutting down ...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("shutdown: %v", err)
	}
}
