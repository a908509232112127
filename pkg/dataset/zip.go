package dataset

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bairrosgo/pkg/geo"
)

// maxEntrySize bounds a single extracted archive member.
const maxEntrySize = 512 << 20

// ReadZip extracts a zipped shapefile to a temporary directory and reads it. layer selects
// the shapefile by base name when the archive holds more than one.
func ReadZip(data []byte, layer string, opts ShapefileOptions) ([]geo.Record, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	shpName, err := pickLayer(zr, layer)
	if err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(shpName, filepath.Ext(shpName))

	dir, err := os.MkdirTemp("", "bairros-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) != stem {
			continue
		}
		// Flatten to the base name so entries cannot escape the temp dir.
		if err := extract(f, filepath.Join(dir, filepath.Base(f.Name))); err != nil {
			return nil, err
		}
	}
	return ReadShapefile(filepath.Join(dir, filepath.Base(shpName)), opts)
}

// ReadZipFile is ReadZip for an archive on disk.
func ReadZipFile(path, layer string, opts ShapefileOptions) ([]geo.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return ReadZip(data, layer, opts)
}

func pickLayer(zr *zip.Reader, layer string) (string, error) {
	var names []string
	for _, f := range zr.File {
		if strings.EqualFold(filepath.Ext(f.Name), ".shp") && !strings.HasPrefix(filepath.Base(f.Name), "._") {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)

	if layer != "" {
		for _, n := range names {
			base := filepath.Base(n)
			if strings.EqualFold(strings.TrimSuffix(base, filepath.Ext(base)), layer) {
				return n, nil
			}
		}
		return "", fmt.Errorf("%w: layer %q not in archive (found: %s)", ErrUnsupportedSource, layer, strings.Join(names, ", "))
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("%w: archive has no .shp file", ErrUnsupportedSource)
	case 1:
		return names[0], nil
	}
	return "", fmt.Errorf("%w: %s; set dataset.layer", ErrAmbiguousArchive, strings.Join(names, ", "))
}

func extract(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if n > maxEntrySize {
		return fmt.Errorf("archive entry %s exceeds %d bytes", f.Name, maxEntrySize)
	}
	return nil
}
