package iptc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/barasher/go-exiftool"
	"github.com/google/go-cmp/cmp"
)

// TestExiftoolRoundTrip runs the real exiftool when it is installed.
func TestExiftoolRoundTrip(t *testing.T) {
	path, err := exec.LookPath("exiftool")
	if err != nil {
		t.Skip("exiftool not installed")
	}

	l := NewLocal(path, nil)
	l.TempDir = t.TempDir()
	out, err := l.Write(context.Background(), Asset{Data: pngBytes(t), ContentType: "image/png", Filename: "a.png"}, NewPayload("Harbor", "", "boat, 海"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	assertNoStaged(t, l.TempDir)

	f := filepath.Join(t.TempDir(), "out.jpg")
	if err := os.WriteFile(f, out, 0o600); err != nil {
		t.Fatal(err)
	}

	et, err := exiftool.NewExiftool(exiftool.SetExiftoolBinaryPath(path))
	if err != nil {
		t.Fatal(err)
	}
	defer et.Close()

	fis := et.ExtractMetadata(f)
	if fis[0].Err != nil {
		t.Fatalf("extract: %v", fis[0].Err)
	}
	fi := fis[0]

	for _, k := range []string{"Title", "ObjectName"} {
		if got, err := fi.GetString(k); err != nil || got != "Harbor" {
			t.Errorf("%s = %q (%v), want %q", k, got, err, "Harbor")
		}
	}
	for _, k := range []string{"Subject", "Keywords"} {
		got, err := fi.GetStrings(k)
		if err != nil {
			t.Errorf("%s: %v", k, err)
			continue
		}
		if diff := cmp.Diff([]string{"boat", "海"}, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", k, diff)
		}
	}
	if _, ok := fi.Fields["CodedCharacterSet"]; !ok {
		t.Errorf("expected CodedCharacterSet to be set, got fields %v", fi.Fields)
	}
	for _, k := range []string{"Description", "Caption-Abstract"} {
		if _, ok := fi.Fields[k]; ok {
			t.Errorf("expected %s to be absent for an empty description", k)
		}
	}
}
