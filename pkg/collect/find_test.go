package collect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/google/go-cmp/cmp"
)

// fakeExtractor reports keywords from a table keyed by base name.
type fakeExtractor map[string][]string

func (f fakeExtractor) ExtractMetadata(files ...string) []exiftool.FileMetadata {
	var out []exiftool.FileMetadata
	for _, p := range files {
		fm := exiftool.FileMetadata{File: p, Fields: map[string]interface{}{}}
		if kw, ok := f[filepath.Base(p)]; ok {
			vs := make([]interface{}, 0, len(kw))
			for _, k := range kw {
				vs = append(vs, k)
			}
			fm.Fields["Keywords"] = vs
		}
		if filepath.Base(p) == "broken.jpg" {
			fm.Err = errors.New("corrupt")
		}
		out = append(out, fm)
	}
	return out
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{
		"a.jpg",
		"sub/b.PNG",
		"sub/c.webp",
		"sub/notes.txt",
		".hidden.jpg",
		".cache/d.jpg",
		"broken.jpg",
	} {
		touch(t, filepath.Join(root, p))
	}

	found, err := Find(fakeExtractor{}, root)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	var got []string
	for _, i := range found {
		got = append(got, i.RelPath)
	}
	sort.Strings(got)
	want := []string{"a.jpg", filepath.Join("sub", "b.PNG"), filepath.Join("sub", "c.webp")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Find mismatch (-want +got):\n%s", diff)
	}
}

func TestReadKeywords(t *testing.T) {
	i, err := Read("/x/tagged.jpg", fakeExtractor{"tagged.jpg": {"cat", "dog"}})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff([]string{"cat", "dog"}, i.Keywords); diff != "" {
		t.Fatalf("keywords mismatch (-want +got):\n%s", diff)
	}
	if !i.Tagged() {
		t.Fatal("expected image to be tagged")
	}

	i, err = Read("/x/plain.jpg", fakeExtractor{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if i.Tagged() {
		t.Fatalf("expected no keywords, got %v", i.Keywords)
	}

	if _, err := Read("/x/broken.jpg", fakeExtractor{}); err == nil {
		t.Fatal("expected extract error")
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.jpg")
	touch(t, p)
	a, err := (&Image{Path: p}).Load()
	if err != nil {
		t.Fatal(err)
	}
	if a.Filename != "a.jpg" || string(a.Data) != "x" {
		t.Fatalf("unexpected asset: %+v", a)
	}
}

func TestWatcher(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "existing"), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(root)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Settle = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(path string) {
			mu.Lock()
			got = append(got, filepath.Base(path))
			mu.Unlock()
		})
	}()

	touch(t, filepath.Join(root, "existing", "new.jpg"))
	touch(t, filepath.Join(root, "ignored.txt"))
	touch(t, filepath.Join(root, ".dot.jpg"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// give ignored files a chance to show up
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"new.jpg"}, got); diff != "" {
		t.Fatalf("watch mismatch (-want +got):\n%s", diff)
	}
}
