package iptc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// WritePath is the route of the write endpoint served by iptcd.
const WritePath = "/api/iptc/write"

// Remote delegates writes to another iptcd instance.
type Remote struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewRemote returns a Remote for baseURL with a default client.
func NewRemote(baseURL string, apiKey string) *Remote {
	return &Remote{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Write posts the asset and payload to the remote write endpoint.
func (r *Remote) Write(ctx context.Context, a Asset, p Payload) ([]byte, error) {
	if Resolve(a.ContentType, a.Filename) == Unsupported {
		return nil, fmt.Errorf("%s (%q): %w", a.Filename, a.ContentType, ErrUnsupportedFormat)
	}

	body, ctype, err := encodeForm(a, p)
	if err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+WritePath, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", ctype)
	if r.APIKey != "" {
		req.Header.Set("X-API-Key", r.APIKey)
	}

	c := r.HTTPClient
	if c == nil {
		c = http.DefaultClient
	}
	klog.V(1).Infof("delegating %s to %s", a.Filename, r.BaseURL)
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(bs))
		if json.Unmarshal(bs, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}
	return bs, nil
}

func encodeForm(a Asset, p Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := a.Filename
	if name == "" {
		name = "image"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(a.Data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"title":       strings.TrimSpace(p.Title),
		"description": strings.TrimSpace(p.Description),
		"tags":        strings.Join(cleanTags(p.Tags), ","),
	}
	for _, k := range []string{"title", "description", "tags"} {
		if fields[k] == "" {
			continue
		}
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
