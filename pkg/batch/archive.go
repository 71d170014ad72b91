package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/iptc"
	"github.com/tstromberg/iptcgen/pkg/metrics"
)

type entry struct {
	name string
	data []byte
}

// Archive collects files in the order they are added and serializes them as a zip.
// Adding a name that is already present replaces the earlier data.
type Archive struct {
	mu      sync.Mutex
	entries []entry
	index   map[string]int
}

// Add stores data under name. Safe for concurrent use.
func (a *Archive) Add(name string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index == nil {
		a.index = map[string]int{}
	}
	if i, ok := a.index[name]; ok {
		klog.Warningf("archive already has %s, replacing it", name)
		a.entries[i].data = data
		return
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, entry{name: name, data: data})
}

// Names returns entry names in archive order.
func (a *Archive) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		names = append(names, e.name)
	}
	return names
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Bytes returns the zip. Entries are stored, not deflated: JPEG data does not compress.
func (a *Archive) Bytes() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now()
	for _, e := range a.entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Store, Modified: now})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	return buf.Bytes(), nil
}

// ArchiveName returns the download name for an archive created at t.
func ArchiveName(t time.Time) string {
	return fmt.Sprintf("iptc_download_%s.zip", t.Format("20060102_150405"))
}

// WriteJob is one image to write metadata into.
type WriteJob struct {
	Asset   iptc.Asset
	Payload iptc.Payload
}

// Written is the artifact of a successful WriteJob.
type Written struct {
	Filename string
	Data     []byte
}

// WriteResult is the terminal artifact of WriteArchive.
type WriteResult struct {
	Outcomes []Outcome[Written]
	Summary  Summary
	Archive  []byte
}

// WriteArchive writes every job with w using at most n concurrent writes and zips the
// successful outputs. Failed jobs are left out of the archive and counted in the summary.
func WriteArchive(ctx context.Context, w iptc.Writer, jobs []WriteJob, n int, m *metrics.Metrics) (*WriteResult, error) {
	arc := &Archive{}
	outs, sum, err := Process(ctx, jobs, Options{Concurrency: n, Kind: "write", Metrics: m},
		func(ctx context.Context, j WriteJob) (Written, error) {
			bs, err := w.Write(ctx, j.Asset, j.Payload)
			if err != nil {
				return Written{}, fmt.Errorf("%s: %w", j.Asset.Filename, err)
			}
			out := Written{Filename: iptc.DownloadName(j.Asset.Filename), Data: bs}
			arc.Add(out.Filename, out.Data)
			return out, nil
		})
	res := &WriteResult{Outcomes: outs, Summary: sum}
	if err != nil {
		return res, err
	}

	klog.Infof("write batch: %s", sum)
	res.Archive, err = arc.Bytes()
	if err != nil {
		return res, fmt.Errorf("archive: %w", err)
	}
	return res, nil
}
