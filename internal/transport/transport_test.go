package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mfittko/vlad/internal/edr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   edr.Kind
		msg    string
	}{
		{"ok", 200, "", edr.KindOther, ""},
		{"created", 201, "", edr.KindOther, ""},
		{"unauthorized", 401, `{"error":{"code":"Unauthorized","message":"token expired"}}`, edr.KindAuth, "Unauthorized: token expired"},
		{"forbidden", 403, "", edr.KindPermission, "access denied"},
		{"not found", 404, `{"error":{"message":"machine not found"}}`, edr.KindNotFound, "machine not found"},
		{"bad request", 400, `{"error":{"code":"ActiveRequestAlreadyExists","message":"Action is already in progress"}}`, edr.KindRejected, "ActiveRequestAlreadyExists"},
		{"plain body", 409, "conflict", edr.KindRejected, "conflict"},
		{"throttled", 429, "", edr.KindTransport, ""},
		{"server error", 503, "", edr.KindTransport, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("MDATP", "op", tt.status, []byte(tt.body))
			if tt.status < 300 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, edr.KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDo_TransportError(t *testing.T) {
	c := New("TMV1", Options{Logger: zaptest.NewLogger(t)})
	// Nothing listens on port 1.
	_, err := c.Do(c.R(context.Background(), "t"), http.MethodGet, "http://127.0.0.1:1/x", "probe")
	require.Error(t, err)
	assert.True(t, edr.IsRetryable(err))
}

func TestDo_SendsBearerToken(t *testing.T) {
	var auth string
	r := chi.NewRouter()
	r.Get("/api/machines", func(w http.ResponseWriter, req *http.Request) {
		auth = req.Header.Get("Authorization")
		w.Write([]byte(`{"value":[]}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := New("MDATP", Options{Logger: zaptest.NewLogger(t)})
	resp, err := c.Do(c.R(context.Background(), "secret"), http.MethodGet, srv.URL+"/api/machines", "list")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.JSONEq(t, `{"value":[]}`, resp.String())
}

func TestDownload(t *testing.T) {
	payload := strings.Repeat("0123456789", 5000)
	r := chi.NewRouter()
	r.Get("/blob", func(w http.ResponseWriter, req *http.Request) {
		assert.Empty(t, req.Header.Get("Authorization"))
		w.Write([]byte(payload))
	})
	r.Get("/expired", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("AuthenticationFailed"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := New("MDATP", Options{Logger: zaptest.NewLogger(t)})
	dir := t.TempDir()

	dest := filepath.Join(dir, "nested", "out.gz")
	n, err := c.Download(context.Background(), srv.URL+"/blob", "", dest, "download")
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))

	bad := filepath.Join(dir, "bad.gz")
	_, err = c.Download(context.Background(), srv.URL+"/expired", "", bad, "download")
	assert.ErrorIs(t, err, edr.ErrPermission)
	assert.Contains(t, err.Error(), "AuthenticationFailed")
	assert.NoFileExists(t, bad)
}

func TestDownload_StreamsPastHTTPTimeout(t *testing.T) {
	chunk := strings.Repeat("x", 1024)
	r := chi.NewRouter()
	r.Get("/slow", func(w http.ResponseWriter, req *http.Request) {
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			w.Write([]byte(chunk))
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(50 * time.Millisecond)
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := New("TMV1", Options{Timeout: 200 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	dest := filepath.Join(t.TempDir(), "big.zip")
	n, err := c.Download(context.Background(), srv.URL+"/slow", "t", dest, "download")
	require.NoError(t, err)
	assert.EqualValues(t, 10*len(chunk), n)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.EqualValues(t, 10*len(chunk), info.Size())
}

func TestDo_TimeoutIsRetryable(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/stuck", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-req.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := New("MDATP", Options{Timeout: 100 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	start := time.Now()
	_, err := c.Do(c.R(context.Background(), "t"), http.MethodGet, srv.URL+"/stuck", "list")
	require.Error(t, err)
	assert.True(t, edr.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://blob/x?...", redact("https://blob/x?sig=abc"))
	assert.Equal(t, "https://api/machines", redact("https://api/machines"))
}
