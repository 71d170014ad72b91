package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tstromberg/iptcgen/pkg/batch"
	"github.com/tstromberg/iptcgen/pkg/config"
	"github.com/tstromberg/iptcgen/pkg/iptc"
	"github.com/tstromberg/iptcgen/pkg/suggest"
)

type fakeWriter struct {
	mu       sync.Mutex
	payloads map[string]iptc.Payload
	err      error
}

func (f *fakeWriter) Write(_ context.Context, a iptc.Asset, p iptc.Payload) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payloads == nil {
		f.payloads = map[string]iptc.Payload{}
	}
	f.payloads[a.Filename] = p
	if f.err != nil || strings.HasPrefix(a.Filename, "fail") {
		return nil, errors.Join(iptc.ErrWriterWrite, f.err)
	}
	return append([]byte("tagged:"), a.Data...), nil
}

type fakeSuggester struct {
	images []suggest.Image
	lang   suggest.Language
	err    error
}

func (f *fakeSuggester) Suggest(_ context.Context, images []suggest.Image, lang suggest.Language) (*suggest.Result, error) {
	f.images = images
	f.lang = lang
	if f.err != nil {
		return nil, f.err
	}
	res := &suggest.Result{}
	for i, img := range images {
		if strings.HasPrefix(img.Name, "skip") {
			res.Outcomes = append(res.Outcomes, batch.Outcome[suggest.Suggestion]{Index: i, Status: batch.Failed, Err: suggest.ErrUnmatched})
			res.Summary.Failed++
			continue
		}
		res.Outcomes = append(res.Outcomes, batch.Outcome[suggest.Suggestion]{
			Index:  i,
			Status: batch.Success,
			Value:  suggest.Suggestion{ID: img.ID, Title: "T " + img.Name, Tags: []string{"a"}},
		})
		res.Summary.Succeeded++
	}
	return res, nil
}

type part struct {
	field, filename, contentType, data string
}

func form(t *testing.T, fields map[string]string, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, p.data); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, h http.Handler, path string, fields map[string]string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := form(t, fields, parts...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e.Error
}

func testServer(w iptc.Writer, s Suggester) *Server {
	c := config.Defaults()
	c.MaxUploads = 3
	c.MaxFileSize = 100
	srv := New(c, w, s, nil)
	srv.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return srv
}

func TestHealth(t *testing.T) {
	h := testServer(&fakeWriter{}, nil).Routes()
	for path, want := range map[string]map[string]string{
		"/":       {"status": "ok", "service": "iptc-api"},
		"/health": {"status": "healthy"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, rec.Code)
		}
		var got map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", path, diff)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: unexpected status %d", rec.Code)
	}
}

func TestWrite(t *testing.T) {
	fw := &fakeWriter{}
	h := testServer(fw, nil).Routes()

	rec := post(t, h, iptc.WritePath,
		map[string]string{"title": " Sunset ", "description": "bay", "tags": "sky, ,sea"},
		part{"file", "my photo #1.png", "image/png", "png"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="my_photo_1-iptc.jpg"` {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if rec.Body.String() != "tagged:png" {
		t.Fatalf("unexpected body %q", rec.Body)
	}
	want := iptc.Payload{Title: "Sunset", Description: "bay", Tags: []string{"sky", "sea"}}
	if diff := cmp.Diff(want, fw.payloads["my photo #1.png"]); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteErrors(t *testing.T) {
	tests := []struct {
		name   string
		w      *fakeWriter
		parts  []part
		status int
	}{
		{"missing file", &fakeWriter{}, nil, http.StatusBadRequest},
		{"unsupported", &fakeWriter{}, []part{{"file", "a.gif", "image/gif", "GIF"}}, http.StatusBadRequest},
		{"too large", &fakeWriter{}, []part{{"file", "a.jpg", "image/jpeg", strings.Repeat("x", 101)}}, http.StatusRequestEntityTooLarge},
		{"writer failure", &fakeWriter{err: errors.New("exiftool died")}, []part{{"file", "a.jpg", "image/jpeg", "x"}}, http.StatusInternalServerError},
		{"writer too large", &fakeWriter{err: iptc.ErrPayloadTooLarge}, []part{{"file", "a.jpg", "image/jpeg", "x"}}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, testServer(tc.w, nil).Routes(), iptc.WritePath, map[string]string{"title": "t"}, tc.parts...)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body)
			}
			if errorOf(t, rec) == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestArchive(t *testing.T) {
	fw := &fakeWriter{}
	h := testServer(fw, nil).Routes()

	items := `[{"title":"One","tags":"a,b"},{"title":"Bad"},{"description":"third"}]`
	rec := post(t, h, "/api/iptc/archive", map[string]string{"items": items},
		part{"files", "one.jpg", "image/jpeg", "1"},
		part{"files", "fail.jpg", "image/jpeg", "2"},
		part{"files", "three.webp", "", "3"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="iptc_download_20240102_030405.zip"` {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if rec.Header().Get("X-Batch-Succeeded") != "2" || rec.Header().Get("X-Batch-Failed") != "1" {
		t.Fatalf("unexpected batch headers: %v", rec.Header())
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"one-iptc.jpg", "three-iptc.jpg"}, names, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Fatalf("zip entries mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(iptc.Payload{Title: "One", Tags: []string{"a", "b"}}, fw.payloads["one.jpg"]); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if fw.payloads["three.webp"].Description != "third" {
		t.Fatalf("items not aligned by index: %+v", fw.payloads)
	}
}

func TestArchiveErrors(t *testing.T) {
	h := testServer(&fakeWriter{}, nil).Routes()

	rec := post(t, h, "/api/iptc/archive", nil,
		part{"files", "a.jpg", "image/jpeg", "1"},
		part{"files", "b.jpg", "image/jpeg", "2"},
		part{"files", "c.jpg", "image/jpeg", "3"},
		part{"files", "d.jpg", "image/jpeg", "4"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too many files, got %d", rec.Code)
	}

	rec = post(t, h, "/api/iptc/archive", map[string]string{"items": "{"}, part{"files", "a.jpg", "image/jpeg", "1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad items, got %d", rec.Code)
	}

	rec = post(t, h, "/api/iptc/archive", nil, part{"files", "fail1.jpg", "image/jpeg", "1"}, part{"files", "fail2.jpg", "image/jpeg", "2"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when every write fails, got %d", rec.Code)
	}
	var e errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatal(err)
	}
	if e.Failed != 2 || e.Succeeded != 0 {
		t.Fatalf("unexpected counts: %+v", e)
	}
}

func TestSuggest(t *testing.T) {
	fs := &fakeSuggester{}
	h := testServer(&fakeWriter{}, fs).Routes()

	rec := post(t, h, "/api/suggest",
		map[string]string{"language": "ja", "meta": `[{"id":"x1","name":"renamed.jpg"}]`},
		part{"files", "a.jpg", "image/jpeg", "1"},
		part{"files", "skip.png", "image/png", "2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if fs.lang != suggest.Japanese {
		t.Fatalf("expected japanese, got %q", fs.lang)
	}
	if fs.images[0].ID != "x1" || fs.images[0].Name != "renamed.jpg" || fs.images[1].ID != "file-2" {
		t.Fatalf("unexpected images: %+v", fs.images)
	}

	var got suggestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := suggestResponse{
		Results: []suggest.Suggestion{{ID: "x1", Title: "T renamed.jpg", Tags: []string{"a"}}},
		Failed:  []string{"file-2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestErrors(t *testing.T) {
	rec := post(t, testServer(&fakeWriter{}, nil).Routes(), "/api/suggest", nil, part{"files", "a.jpg", "image/jpeg", "1"})
	if rec.Code != http.StatusInternalServerError || !strings.Contains(errorOf(t, rec), "GEMINI_API_KEY") {
		t.Fatalf("expected 500 without an API key, got %d: %s", rec.Code, rec.Body)
	}

	fs := &fakeSuggester{err: fmt.Errorf("2 images: %w", batch.ErrTotalFailure)}
	rec = post(t, testServer(&fakeWriter{}, fs).Routes(), "/api/suggest", nil, part{"files", "a.jpg", "image/jpeg", "1"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on total failure, got %d", rec.Code)
	}

	rec = post(t, testServer(&fakeWriter{}, &fakeSuggester{}).Routes(), "/api/suggest", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without files, got %d", rec.Code)
	}
}
