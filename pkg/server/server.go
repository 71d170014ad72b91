// Package server provides HTTP handlers for writing and suggesting image metadata.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/batch"
	"github.com/tstromberg/iptcgen/pkg/config"
	"github.com/tstromberg/iptcgen/pkg/iptc"
	"github.com/tstromberg/iptcgen/pkg/metrics"
	"github.com/tstromberg/iptcgen/pkg/suggest"
)

// Suggester generates metadata for images.
type Suggester interface {
	Suggest(ctx context.Context, images []suggest.Image, lang suggest.Language) (*suggest.Result, error)
}

// Server serves the iptcgen HTTP API.
type Server struct {
	c       config.Config
	w       iptc.Writer
	s       Suggester
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a new server. s may be nil, in which case /api/suggest reports that no
// API key is configured.
func New(c config.Config, w iptc.Writer, s Suggester, m *metrics.Metrics) *Server {
	return &Server{c: c, w: w, s: s, metrics: m, now: time.Now}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logRequests,
	)

	r.Get("/", s.RootHandler())
	r.Get("/health", s.HealthHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Post(iptc.WritePath, s.WriteHandler())
	r.Post("/api/iptc/archive", s.ArchiveHandler())
	r.Post("/api/suggest", s.SuggestHandler())
	return r
}

// RootHandler identifies the service.
func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "iptc-api"})
	}
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// WriteHandler writes metadata into a single uploaded image and returns it.
func (s *Server) WriteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.parseForm(r); err != nil {
			writeError(w, err)
			return
		}

		fhs := r.MultipartForm.File["file"]
		if len(fhs) == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "please select an image file"})
			return
		}

		a, err := s.readAsset(fhs[0])
		if err != nil {
			writeError(w, err)
			return
		}

		p := iptc.NewPayload(r.FormValue("title"), r.FormValue("description"), r.FormValue("tags"))
		bs, err := s.w.Write(r.Context(), a, p)
		if err != nil {
			klog.Errorf("failed to write IPTC metadata for %s: %v", a.Filename, err)
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", iptc.JPEGMIME)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", iptc.DownloadName(a.Filename)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(bs); err != nil {
			klog.Warningf("write response: %v", err)
		}
	}
}

type itemForm struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
}

// ArchiveHandler writes metadata into several images and returns a zip of the ones that
// succeeded.
func (s *Server) ArchiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.parseForm(r); err != nil {
			writeError(w, err)
			return
		}

		fhs := r.MultipartForm.File["files"]
		if len(fhs) == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "please select an image file"})
			return
		}
		if len(fhs) > s.c.MaxUploads {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("at most %d images can be sent at once", s.c.MaxUploads)})
			return
		}

		var items []itemForm
		if raw := r.FormValue("items"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &items); err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid items: %v", err)})
				return
			}
		}

		jobs := make([]batch.WriteJob, 0, len(fhs))
		for i, fh := range fhs {
			a, err := s.readAsset(fh)
			if err != nil {
				writeError(w, err)
				return
			}
			var it itemForm
			if i < len(items) {
				it = items[i]
			}
			jobs = append(jobs, batch.WriteJob{Asset: a, Payload: iptc.NewPayload(it.Title, it.Description, it.Tags)})
		}

		res, err := batch.WriteArchive(r.Context(), s.w, jobs, s.c.WriteConcurrency, s.metrics)
		if err != nil {
			klog.Errorf("archive failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{
				Error:     "failed to create the ZIP archive",
				Succeeded: res.Summary.Succeeded,
				Failed:    res.Summary.Failed,
			})
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batch.ArchiveName(s.now())))
		w.Header().Set("X-Batch-Succeeded", fmt.Sprint(res.Summary.Succeeded))
		w.Header().Set("X-Batch-Failed", fmt.Sprint(res.Summary.Failed))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res.Archive); err != nil {
			klog.Warningf("write response: %v", err)
		}
	}
}

type metaForm struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type suggestResponse struct {
	Results []suggest.Suggestion `json:"results"`
	Failed  []string             `json:"failed,omitempty"`
}

// SuggestHandler asks Gemini for metadata for each uploaded image.
func (s *Server) SuggestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.s == nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "GEMINI_API_KEY is not set"})
			return
		}
		if err := s.parseForm(r); err != nil {
			writeError(w, err)
			return
		}

		fhs := r.MultipartForm.File["files"]
		if len(fhs) == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "please select an image file"})
			return
		}
		if len(fhs) > s.c.MaxUploads {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("at most %d images can be sent at once", s.c.MaxUploads)})
			return
		}

		var metas []metaForm
		if raw := r.FormValue("meta"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metas); err != nil {
				klog.Warningf("ignoring unparseable meta: %v", err)
				metas = nil
			}
		}

		images := make([]suggest.Image, 0, len(fhs))
		for i, fh := range fhs {
			a, err := s.readAsset(fh)
			if err != nil {
				writeError(w, err)
				return
			}
			img := suggest.Image{ID: suggest.FallbackID(i), Name: a.Filename, ContentType: a.ContentType, Data: a.Data}
			if i < len(metas) {
				if metas[i].ID != "" {
					img.ID = metas[i].ID
				}
				if metas[i].Name != "" {
					img.Name = metas[i].Name
				}
			}
			images = append(images, img)
		}

		res, err := s.s.Suggest(r.Context(), images, suggest.ParseLanguage(r.FormValue("language")))
		if err != nil {
			klog.Errorf("suggest failed: %v", err)
			writeError(w, err)
			return
		}

		out := suggestResponse{Results: []suggest.Suggestion{}}
		for i, o := range res.Outcomes {
			if o.Status == batch.Success {
				out.Results = append(out.Results, o.Value)
				continue
			}
			out.Failed = append(out.Failed, images[i].ID)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// parseForm parses a multipart body, holding at most one batch worth of files in memory.
func (s *Server) parseForm(r *http.Request) error {
	limit := s.c.MaxFileSize * int64(max(1, s.c.MaxUploads))
	if err := r.ParseMultipartForm(limit); err != nil {
		return fmt.Errorf("%w: %w", errBadForm, err)
	}
	return nil
}

func (s *Server) readAsset(fh *multipart.FileHeader) (iptc.Asset, error) {
	a := iptc.Asset{Filename: fh.Filename, ContentType: fh.Header.Get("Content-Type")}
	if iptc.Resolve(a.ContentType, a.Filename) == iptc.Unsupported {
		return a, fmt.Errorf("%s: %w", a.Filename, iptc.ErrUnsupportedFormat)
	}
	if s.c.MaxFileSize > 0 && fh.Size > s.c.MaxFileSize {
		return a, fmt.Errorf("%s is %d bytes: %w", a.Filename, fh.Size, iptc.ErrPayloadTooLarge)
	}

	f, err := fh.Open()
	if err != nil {
		return a, fmt.Errorf("open %s: %w", a.Filename, err)
	}
	defer f.Close()

	a.Data, err = io.ReadAll(f)
	if err != nil {
		return a, fmt.Errorf("read %s: %w", a.Filename, err)
	}
	return a, nil
}

var errBadForm = errors.New("malformed multipart form")
