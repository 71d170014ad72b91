package iptc

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/klog/v2"
)

// DefaultVendorPath is where a bundled exiftool is expected, relative to the install root.
var DefaultVendorPath = "/ROOT/third_party/exiftool/exiftool"

// SystemPath is the usual location of a distribution-packaged exiftool.
var SystemPath = "/usr/bin/exiftool"

// Platform describes the host for exiftool discovery.
type Platform struct {
	// GOOS is the operating system, as in runtime.GOOS.
	GOOS string
	// Root replaces the ROOT placeholder in VendorPath. Usually the working directory.
	Root string
	// VendorPath is the bundled exiftool path, possibly starting with /ROOT/.
	VendorPath string
}

var rootToken = regexp.MustCompile(`^[\\/]ROOT[\\/]`)

// resolveVendorPath rewrites a leading /ROOT/ (or \ROOT\) placeholder to root.
func resolveVendorPath(raw string, root string) string {
	if raw == "" || !rootToken.MatchString(raw) {
		return raw
	}
	rel := rootToken.ReplaceAllString(raw, "")
	segs := strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' })
	return filepath.Join(append([]string{root}, segs...)...)
}

// Candidates returns exiftool locations to try, in order. Windows prefers the
// standalone exiftool.exe over the perl script, which it cannot spawn directly.
func Candidates(p Platform) []string {
	vendor := resolveVendorPath(p.VendorPath, p.Root)
	vendorDir := filepath.Dir(vendor)

	var scripts []string
	if vendor != "" {
		scripts = append(scripts, vendor)
	}
	scripts = append(scripts, SystemPath)
	if vendor != "" {
		scripts = append(scripts, filepath.Join(vendorDir, "exiftool"))
	}
	scripts = append(scripts, filepath.Join(p.Root, "third_party", "Image-ExifTool", "exiftool"))

	exes := []string{filepath.Join(p.Root, "third_party", "exiftool.exe", "exiftool.exe")}
	if vendor != "" {
		exes = append(exes, filepath.Join(vendorDir, "exiftool.exe"))
	}
	exes = append(exes, filepath.Join(p.Root, "third_party", "Image-ExifTool", "exiftool.exe"))

	var cs []string
	if p.GOOS == "windows" {
		cs = append(exes, scripts...)
	} else {
		cs = append(scripts, exes...)
	}
	return dedupe(cs)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Discover returns the first candidate accepted by exists. A miss returns "" and is not
// an error: exiftool may still be resolvable from PATH.
func Discover(p Platform, exists func(string) bool) string {
	if exists == nil {
		exists = fileExists
	}
	cs := Candidates(p)
	for _, c := range cs {
		if exists(c) {
			klog.V(1).Infof("using exiftool at %s", c)
			return c
		}
	}
	klog.Warningf("exiftool not found in %d candidate paths, falling back to PATH", len(cs))
	return ""
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
