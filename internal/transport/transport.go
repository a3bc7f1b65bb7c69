// Package transport wraps the HTTP client shared by the vendor adapters and
// maps HTTP outcomes onto the edr error taxonomy.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mfittko/vlad/internal/edr"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ChunkSize bounds each write of a streamed download.
const ChunkSize = 8192

// maxErrorBody caps how much of a failed streamed response is kept for the
// error message.
const maxErrorBody = 4096

// Options configures a Client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	UserAgent          string
	Logger             *zap.Logger
}

// Client issues vendor requests on behalf of one adapter.
type Client struct {
	rc      *resty.Client
	vendor  string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a client whose errors are attributed to vendor.
func New(vendor string, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	// No client-wide timeout: http.Client.Timeout also covers reading the
	// body, which would cut off large downloads. The transport bounds the
	// wait for response headers and Do bounds each API call.
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Timeout > 0 {
		tr.ResponseHeaderTimeout = opts.Timeout
	}
	if opts.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	rc := resty.New().SetTransport(tr)
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}

	c := &Client{
		rc:      rc,
		vendor:  vendor,
		timeout: opts.Timeout,
		logger:  logger.With(zap.String("vendor", vendor)),
	}
	rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug("http response",
			zap.String("method", resp.Request.Method),
			zap.String("url", redact(resp.Request.URL)),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("elapsed", resp.Time()))
		return nil
	})
	return c
}

// Vendor returns the vendor name errors are attributed to.
func (c *Client) Vendor() string { return c.vendor }

// R starts a request bound to ctx. An empty token sends no Authorization
// header, which is what pre-signed download links expect.
func (c *Client) R(ctx context.Context, token string) *resty.Request {
	req := c.rc.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// Do executes req and classifies the result. The whole call, body included,
// is bounded by the client timeout. A non-nil response is returned alongside
// classified HTTP errors so callers can inspect bodies.
func (c *Client) Do(req *resty.Request, method, url, op string) (*resty.Response, error) {
	parent := req.Context()
	if c.timeout > 0 {
		ctx, cancel := context.WithTimeout(parent, c.timeout)
		defer cancel()
		req.SetContext(ctx)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		if ctxErr := parent.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, edr.NewError(edr.KindTransport, c.vendor, op, err)
	}
	return resp, c.Check(resp.StatusCode(), resp.Body(), op)
}

// Check maps an HTTP status onto the error taxonomy. 2xx is success.
func (c *Client) Check(status int, body []byte, op string) error {
	return Classify(c.vendor, op, status, body)
}

// Classify maps an HTTP status onto the error taxonomy. Throttling and
// server-side errors are treated as transport failures so pollers retry them.
func Classify(vendor, op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	e := &edr.Error{Vendor: vendor, Op: op, StatusCode: status, Body: ErrorMessage(body)}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = edr.KindAuth
	case status == http.StatusForbidden:
		e.Kind = edr.KindPermission
		if e.Body == "" {
			e.Body = "access denied, check the API permissions of this client"
		}
	case status == http.StatusNotFound:
		e.Kind = edr.KindNotFound
	case status == http.StatusTooManyRequests, status >= 500:
		e.Kind = edr.KindTransport
	default:
		e.Kind = edr.KindRejected
	}
	return e
}

// ErrorMessage extracts a readable message from a vendor error body. Both
// vendors wrap errors as {"error":{"code":..,"message":..}}.
func ErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		code := gjson.GetBytes(body, "error.code").String()
		msg := gjson.GetBytes(body, "error.message").String()
		switch {
		case code != "" && msg != "":
			return code + ": " + msg
		case msg != "":
			return msg
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// Download streams url into dest in ChunkSize pieces, creating parent
// directories as needed. Only the wait for response headers is bounded by
// the client timeout; the body streams for as long as it takes. A partially
// written file is removed on failure.
func (c *Client) Download(ctx context.Context, url, token, dest, op string) (int64, error) {
	req := c.R(ctx, token).SetDoNotParseResponse(true)
	resp, err := req.Get(url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, edr.NewError(edr.KindTransport, c.vendor, op, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return 0, c.Check(status, readLimited(body), op)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create download directory: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	n, copyErr := io.CopyBuffer(onlyWriter{f}, body, make([]byte, ChunkSize))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dest)
		if copyErr != nil {
			return n, edr.NewError(edr.KindTransport, c.vendor, op, copyErr)
		}
		return n, fmt.Errorf("write %s: %w", dest, closeErr)
	}
	c.logger.Debug("download complete", zap.String("dest", dest), zap.Int64("bytes", n))
	return n, nil
}

// onlyWriter hides ReadFrom so io.CopyBuffer really uses the bounded buffer.
type onlyWriter struct{ w io.Writer }

func (o onlyWriter) Write(p []byte) (int, error) { return o.w.Write(p) }

func readLimited(r io.Reader) []byte {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil
	}
	return b
}

// redact drops the query string, which carries SAS signatures on download
// links.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?..."
	}
	return u
}
