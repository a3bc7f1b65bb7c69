package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"
)

func writeGzip(t *testing.T, path string, content []byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// writeEncryptedZip builds an AES-256 zip holding the given entries.
func writeEncryptedZip(t *testing.T, path, password string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Encrypt(name, password, zip.AES256Encryption)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content []byte
		want    Format
	}{
		{"a.bin", []byte("PK\x03\x04rest"), FormatZip},
		{"b.bin", []byte{0x1f, 0x8b, 0x08, 0x00}, FormatGzip},
		{"c.bin", []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}, FormatSevenZip},
		{"d.gz", []byte("not really"), FormatGzip},
		{"e.txt", []byte("hello"), FormatUnknown},
		{"f.zip", []byte{}, FormatZip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(p, tt.content, 0o644))
			got, err := Detect(p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Detect(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestGunzip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "task_hosts.gz")
	writeGzip(t, src, []byte("127.0.0.1 localhost\n"))

	dest := filepath.Join(dir, "task_hosts")
	require.NoError(t, Gunzip(src, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 localhost\n", string(got))
}

func TestGunzip_CorruptRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.gz")
	require.NoError(t, os.WriteFile(src, []byte("definitely not gzip"), 0o644))

	dest := filepath.Join(dir, "bad")
	assert.Error(t, Gunzip(src, dest))
	assert.NoFileExists(t, dest)
}

func TestUnzip_Encrypted(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "00000042.zip")
	writeEncryptedZip(t, src, "virus", map[string]string{
		"executed_result.txt": "uid=0(root)\n",
		"logs/extra.log":      "x",
	})

	out := filepath.Join(dir, "00000042")
	files, err := Unzip(src, out, "virus")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	report, ok := Find(files, "executed_result.txt")
	require.True(t, ok)
	got, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, "uid=0(root)\n", string(got))
}

func TestUnzip_WrongPasswordLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "00000043.zip")
	writeEncryptedZip(t, src, "virus", map[string]string{"executed_result.txt": "secret"})

	out := filepath.Join(dir, "00000043")
	_, err := Unzip(src, out, "wrong")
	require.Error(t, err)
	assert.NoDirExists(t, out)
}

func TestUnzip_NotAZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "x.zip")
	require.NoError(t, os.WriteFile(src, []byte("nope"), 0o644))
	_, err := Unzip(src, filepath.Join(dir, "x"), "")
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	_, ok := Find([]string{"/a/b.txt"}, "executed_result.txt")
	assert.False(t, ok)
}
