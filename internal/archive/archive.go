// Package archive decodes the artifacts vendors hand back: gzip streams and
// password-protected AES zip files.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/yeka/zip"
)

// Format is a detected compression format.
type Format string

const (
	FormatUnknown  Format = "unknown"
	FormatGzip     Format = "gz"
	FormatZip      Format = "zip"
	FormatSevenZip Format = "7z"
)

var (
	magicZip      = []byte("PK\x03\x04")
	magicGzip     = []byte{0x1f, 0x8b}
	magicSevenZip = []byte{'7', 'z', 0xbc, 0xaf}
)

const copyBuffer = 32 * 1024

// ErrUnsafePath rejects archive entries escaping the extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Detect identifies path by its magic bytes, falling back to its extension.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, err
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicSevenZip):
		return FormatSevenZip, nil
	case bytes.HasPrefix(head, magicZip):
		return FormatZip, nil
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".7z":
		return FormatSevenZip, nil
	case ".zip":
		return FormatZip, nil
	case ".gz":
		return FormatGzip, nil
	}
	return FormatUnknown, nil
}

// Gunzip decompresses src into dest. dest is removed if decoding fails.
func Gunzip(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("gzip %s: %w", filepath.Base(src), err)
	}
	defer zr.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	if _, err = io.CopyBuffer(out, zr, make([]byte, copyBuffer)); err != nil {
		return fmt.Errorf("gzip %s: %w", filepath.Base(src), err)
	}
	return nil
}

// Unzip extracts src into destDir, decrypting entries with password when they
// are encrypted. It returns the extracted file paths. When extraction fails,
// destDir is removed if Unzip created it.
func Unzip(src, destDir, password string) (files []string, err error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("zip %s: %w", filepath.Base(src), err)
	}
	defer zr.Close()

	_, statErr := os.Stat(destDir)
	created := os.IsNotExist(statErr)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && created {
			_ = os.RemoveAll(destDir)
		}
	}()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}

	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if f.IsEncrypted() {
			f.SetPassword(password)
		}
		if err := extractFile(f, target); err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", f.Name, err)
		}
		files = append(files, target)
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(out, rc, make([]byte, copyBuffer)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Find returns the first extracted file whose base name equals name.
func Find(files []string, name string) (string, bool) {
	for _, f := range files {
		if filepath.Base(f) == name {
			return f, true
		}
	}
	return "", false
}
