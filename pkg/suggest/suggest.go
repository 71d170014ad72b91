// Package suggest asks Gemini for a title, description and tags for each of a set of
// images, using the Files API to upload once and reference by URI.
package suggest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/genai"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/batch"
	"github.com/tstromberg/iptcgen/pkg/iptc"
	"github.com/tstromberg/iptcgen/pkg/metrics"
)

var (
	// ErrUpstream is a failed or malformed response from Gemini.
	ErrUpstream = errors.New("upstream error")
	// ErrUpstreamTimeout is returned when an upload does not become active in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUnmatched is recorded for images that Gemini returned no result for.
	ErrUnmatched = errors.New("no result for image")
)

const (
	// DefaultModel is the Gemini model used when none is configured.
	DefaultModel = "gemini-2.5-flash"
	// MaxTags caps the tags kept per image.
	MaxTags = 12
	// DefaultMaxEdge is the longest edge, in pixels, of images sent for suggestions.
	DefaultMaxEdge = 1536
)

// Files is the subset of the genai Files API used here.
type Files interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// Models is the subset of the genai Models API used here.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Image is one image to describe.
type Image struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
}

// Suggestion is Gemini's metadata for one image.
type Suggestion struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Payload converts s into a writable payload.
func (s Suggestion) Payload() iptc.Payload {
	return iptc.Payload{Title: s.Title, Description: s.Description, Tags: s.Tags}
}

// Service generates suggestions.
type Service struct {
	Files  Files
	Models Models
	Model  string
	// UploadConcurrency bounds parallel uploads.
	UploadConcurrency int
	// PollInterval and PollTimeout bound the wait for an upload to become active.
	PollInterval time.Duration
	PollTimeout  time.Duration
	// MaxEdge downscales larger images before upload; zero sends them as-is.
	MaxEdge int
	Metrics *metrics.Metrics
}

// New returns a Service backed by a Gemini API client.
func New(ctx context.Context, apiKey string, model string, uploadConcurrency int, m *metrics.Metrics) (*Service, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Service{
		Files:             c.Files,
		Models:            c.Models,
		Model:             model,
		UploadConcurrency: uploadConcurrency,
		PollInterval:      800 * time.Millisecond,
		PollTimeout:       20 * time.Second,
		MaxEdge:           DefaultMaxEdge,
		Metrics:           m,
	}, nil
}

// uploaded is a file Gemini has finished processing.
type uploaded struct {
	image Image
	file  *genai.File
}

// Result pairs each requested image with its suggestion or failure.
type Result struct {
	Outcomes []batch.Outcome[Suggestion]
	Summary  batch.Summary
}

// Suggest uploads images, asks for metadata in a single generation request, and matches
// the returned ids back to the images. Each image fails or succeeds on its own; the
// returned error is non-nil only when nothing succeeded.
func (s *Service) Suggest(ctx context.Context, images []Image, lang Language) (*Result, error) {
	images = append([]Image(nil), images...)
	for i, img := range images {
		if img.ID == "" {
			images[i].ID = FallbackID(i)
		}
		if iptc.Resolve(img.ContentType, img.Name) == iptc.Unsupported {
			return nil, fmt.Errorf("%s: %w", img.Name, iptc.ErrUnsupportedFormat)
		}
	}

	var (
		mu    sync.Mutex
		names []string
	)
	defer func() {
		s.cleanup(names)
	}()

	ups, _, err := batch.Process(ctx, images, batch.Options{Concurrency: s.UploadConcurrency, Kind: "upload", Metrics: s.Metrics},
		func(ctx context.Context, img Image) (uploaded, error) {
			f, err := s.upload(ctx, img)
			s.Metrics.ObserveUpload(err)
			if f != nil && f.Name != "" {
				mu.Lock()
				names = append(names, f.Name)
				mu.Unlock()
			}
			if err != nil {
				return uploaded{}, err
			}
			return uploaded{image: img, file: f}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	var ready []uploaded
	for _, u := range ups {
		if u.Status == batch.Success {
			ready = append(ready, u.Value)
		}
	}

	found, err := s.generate(ctx, ready, lang)
	if err != nil {
		return nil, err
	}

	res := &Result{Outcomes: make([]batch.Outcome[Suggestion], len(images))}
	for i, u := range ups {
		o := batch.Outcome[Suggestion]{Index: i, Status: batch.Failed, Err: u.Err}
		if u.Status == batch.Success {
			if sg, ok := found[images[i].ID]; ok {
				o = batch.Outcome[Suggestion]{Index: i, Status: batch.Success, Value: sg}
			} else {
				o.Err = fmt.Errorf("%s: %w", images[i].ID, ErrUnmatched)
			}
		}
		if o.Status == batch.Success {
			res.Summary.Succeeded++
		} else {
			res.Summary.Failed++
		}
		res.Outcomes[i] = o
	}

	klog.Infof("suggest: %s", res.Summary)
	if res.Summary.Succeeded == 0 {
		return res, fmt.Errorf("%d images: %w", len(images), batch.ErrTotalFailure)
	}
	return res, nil
}

// upload sends one image and waits for it to become active. The returned file is set
// whenever Gemini accepted the upload, even if processing later failed.
func (s *Service) upload(ctx context.Context, img Image) (*genai.File, error) {
	if small, err := shrink(img, s.MaxEdge); err != nil {
		klog.Warningf("uploading %s at full size: %v", img.Name, err)
	} else {
		img = small
	}

	mime := iptc.Resolve(img.ContentType, img.Name).MIMEType()
	f, err := s.Files.Upload(ctx, bytes.NewReader(img.Data), &genai.UploadFileConfig{
		MIMEType:    mime,
		DisplayName: img.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", ErrUpstream, img.Name, err)
	}
	klog.V(1).Infof("uploaded %s as %s (%s)", img.Name, f.Name, f.State)

	active, err := s.waitActive(ctx, f)
	if err != nil {
		return f, fmt.Errorf("%s: %w", img.Name, err)
	}
	return active, nil
}

// waitActive polls until f is active, failed, or the deadline passes.
func (s *Service) waitActive(ctx context.Context, f *genai.File) (*genai.File, error) {
	if f.State == genai.FileStateActive {
		return f, nil
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	timeout := s.PollTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		cur, err := s.Files.Get(ctx, f.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: get %s: %w", ErrUpstream, f.Name, err)
		}
		switch cur.State {
		case genai.FileStateActive:
			return cur, nil
		case genai.FileStateFailed:
			return nil, fmt.Errorf("%w: processing of %s failed", ErrUpstream, f.Name)
		}
	}
	return nil, fmt.Errorf("%w: %s not active after %s", ErrUpstreamTimeout, f.Name, timeout)
}

// generate asks for metadata for every ready file in one request.
func (s *Service) generate(ctx context.Context, ready []uploaded, lang Language) (map[string]Suggestion, error) {
	if len(ready) == 0 {
		return nil, fmt.Errorf("no uploaded images: %w", batch.ErrTotalFailure)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(promptIntro(lang, len(ready)) + "\nUse the provided image ID and include it in the JSON results."),
	}
	for _, u := range ready {
		parts = append(parts,
			genai.NewPartFromText(fmt.Sprintf("Image ID: %s / File: %s", u.image.ID, u.image.Name)),
			genai.NewPartFromURI(u.file.URI, u.file.MIMEType),
		)
	}

	model := s.Model
	if model == "" {
		model = DefaultModel
	}
	resp, err := s.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt(lang), genai.RoleUser),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %w", ErrUpstream, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrUpstream)
	}

	sgs, err := Parse([]byte(resp.Text()))
	if err != nil {
		return nil, err
	}

	found := map[string]Suggestion{}
	for _, sg := range sgs {
		found[sg.ID] = sg
	}
	return found, nil
}

// cleanup deletes uploaded files. Failures are logged and dropped.
func (s *Service) cleanup(names []string) {
	if len(names) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Files.Delete(ctx, n, nil); err != nil {
				klog.Warningf("unable to delete uploaded file %s: %v", n, err)
			}
		}()
	}
	wg.Wait()
}

// FallbackID is the id given to the i'th (zero-based) image when the caller gave none.
func FallbackID(i int) string {
	return fmt.Sprintf("file-%d", i+1)
}
