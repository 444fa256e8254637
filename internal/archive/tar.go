// Package archive implements the model container format: a tar file
// holding the gzipped architecture settings, the gzipped vocabulary
// and an uncompressed binary weights blob, plus the weights codec
// itself.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"
)

// Writer adds named members to a tar stream.
type Writer struct {
	tw *tar.Writer
}

// NewWriter wraps w in a tar writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{tw: tar.NewWriter(w)}
}

// AddRaw stores data under name as-is.
func (w *Writer) AddRaw(name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: write header %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	return nil
}

// AddGzip gzip-compresses data and stores it under name.
func (w *Writer) AddGzip(name string, data []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("archive: compress %s: %w", name, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive: compress %s: %w", name, err)
	}
	return w.AddRaw(name, buf.Bytes())
}

// Close flushes the tar stream.
func (w *Writer) Close() error {
	return w.tw.Close()
}

// ReadAll reads every member of a tar stream into memory, keyed by
// member name. Compressed members stay compressed; use ReadGzip.
func ReadAll(r io.Reader) (map[string][]byte, error) {
	tr := tar.NewReader(r)
	entries := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: read: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("archive: read %s: %w", hdr.Name, err)
		}
		entries[hdr.Name] = data
	}
	return entries, nil
}

// ReadRaw returns the named member or ErrMissingEntry.
func ReadRaw(entries map[string][]byte, name string) ([]byte, error) {
	data, ok := entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, name)
	}
	return data, nil
}

// ReadGzip returns the named member decompressed.
func ReadGzip(entries map[string][]byte, name string) ([]byte, error) {
	raw, err := ReadRaw(entries, name)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("archive: decompress %s: %w", name, err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("archive: decompress %s: %w", name, err)
	}
	return data, nil
}
