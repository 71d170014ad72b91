// Package collect finds images on disk and reads the metadata they already carry.
package collect

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/barasher/go-exiftool"
	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/iptc"
)

// Image is an image found on disk.
type Image struct {
	Path     string
	RelPath  string
	Keywords []string
	Title    string
}

// Tagged reports whether the image already has keywords.
func (i *Image) Tagged() bool {
	return len(i.Keywords) > 0
}

// Extractor reads existing metadata.
type Extractor interface {
	ExtractMetadata(files ...string) []exiftool.FileMetadata
}

// Supported reports whether path names an image the write pipeline accepts.
func Supported(path string) bool {
	return iptc.Resolve("", path) != iptc.Unsupported
}

// Read returns the existing metadata for path. A missing tag is not an error.
func Read(path string, et Extractor) (*Image, error) {
	i := &Image{Path: path}
	if et == nil {
		return i, nil
	}

	fis := et.ExtractMetadata(path)
	if len(fis) == 0 {
		return i, fmt.Errorf("extract %q: no metadata returned", path)
	}
	fi := fis[0]
	if fi.Err != nil {
		return i, fmt.Errorf("extract fail for %q: %w", path, fi.Err)
	}

	for k, v := range fi.Fields {
		klog.V(2).Infof("%q=%v", k, v)
	}

	var err error
	i.Keywords, err = fi.GetStrings("Keywords")
	if err != nil {
		klog.V(2).Infof("no keywords in %s: %v", path, err)
	}
	i.Title, err = fi.GetString("Title")
	if err != nil {
		klog.V(2).Infof("no title in %s: %v", path, err)
	}
	return i, nil
}

// Find walks roots and returns every supported image, skipping dot-files and dot-directories.
func Find(et Extractor, roots ...string) ([]*Image, error) {
	found := []*Image{}
	for _, root := range roots {
		err := godirwalk.Walk(root, &godirwalk.Options{
			Callback: func(path string, de *godirwalk.Dirent) error {
				if path != root && filepath.Base(path)[0] == '.' {
					return godirwalk.SkipThis
				}
				if de.IsDir() || !Supported(path) {
					return nil
				}

				klog.V(1).Infof("found %s", path)
				i, err := Read(path, et)
				if err != nil {
					klog.Errorf("read failure: %v", err)
					return nil
				}
				i.RelPath, err = filepath.Rel(root, path)
				if err != nil {
					return err
				}
				found = append(found, i)
				return nil
			},
		})
		if err != nil {
			return found, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return found, nil
}

// Load reads the bytes of an image found by Find.
func (i *Image) Load() (iptc.Asset, error) {
	bs, err := os.ReadFile(i.Path)
	if err != nil {
		return iptc.Asset{}, fmt.Errorf("read %s: %w", i.Path, err)
	}
	return iptc.Asset{Data: bs, Filename: filepath.Base(i.Path)}, nil
}
