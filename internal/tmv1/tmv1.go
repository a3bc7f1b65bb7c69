// Package tmv1 implements the live-response capability set against the
// Trend Vision One v3.0 API. Binary staging and pending-action cancellation
// are not offered by the platform and report edr.ErrUnsupported.
package tmv1

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/poll"
	"github.com/mfittko/vlad/internal/transport"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Name is the vendor name used on the command line and in messages.
const Name = "TMV1"

// DefaultPolicy polls every 30s after a 20s grace period in which a fresh
// task usually has no record yet.
var DefaultPolicy = poll.Policy{
	Interval:     30 * time.Second,
	InitialDelay: 20 * time.Second,
	RetryDelay:   5 * time.Second,
	Timeout:      10 * time.Minute,
}

// Options configures the adapter.
type Options struct {
	HTTP   *transport.Client
	Logger *zap.Logger
	Clock  poll.Clock
	Policy *poll.Policy
	// Timeout overrides the poll budget of the default policy.
	Timeout time.Duration
}

// Adapter talks to one Vision One region with a static API token.
type Adapter struct {
	http   *transport.Client
	logger *zap.Logger
	clock  poll.Clock
	policy poll.Policy
}

var _ edr.Vendor = (*Adapter)(nil)

// New creates an adapter with defaults for anything opts leaves unset.
func New(opts Options) *Adapter {
	a := &Adapter{
		http:   opts.HTTP,
		logger: opts.Logger,
		clock:  opts.Clock,
		policy: DefaultPolicy,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.logger = a.logger.With(zap.String("vendor", Name))
	if a.http == nil {
		a.http = transport.New(Name, transport.Options{Logger: a.logger})
	}
	if a.clock == nil {
		a.clock = poll.RealClock{}
	}
	if opts.Policy != nil {
		a.policy = *opts.Policy
	}
	if opts.Timeout > 0 {
		a.policy.Timeout = opts.Timeout
	}
	return a
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) PollPolicy() poll.Policy { return a.policy }

// Supports reports false for binary staging and pending action cancellation.
func (a *Adapter) Supports(c edr.Capability) bool {
	switch c {
	case edr.CapStageBinary, edr.CapCancelPending:
		return false
	}
	return true
}

// Authenticate binds the configured token to the base URL. No request is
// made; a bad token surfaces as an auth error on the first call.
func (a *Adapter) Authenticate(_ context.Context, cred edr.Credential) (*edr.Session, error) {
	if cred.Token == "" {
		return nil, &edr.Error{Kind: edr.KindAuth, Vendor: Name, Op: "authenticate", Body: "no API token configured"}
	}
	baseURL := strings.TrimRight(cred.BaseURL, "/")
	if baseURL == "" {
		return nil, &edr.Error{Kind: edr.KindAuth, Vendor: Name, Op: "authenticate", Body: "no base URL configured"}
	}
	return &edr.Session{Token: cred.Token, BaseURL: baseURL}, nil
}

// getJSON issues an authenticated GET and returns the parsed body.
func (a *Adapter) getJSON(ctx context.Context, s *edr.Session, url, op string, headers map[string]string) (gjson.Result, error) {
	req := a.http.R(ctx, s.Token).SetHeaders(headers)
	resp, err := a.http.Do(req, http.MethodGet, url, op)
	if err != nil {
		return gjson.Result{}, err
	}
	return parse(resp.Body(), op)
}

func parse(body []byte, op string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &edr.Error{Kind: edr.KindProtocol, Vendor: Name, Op: op, Body: "response is not valid JSON"}
	}
	return gjson.ParseBytes(body), nil
}

// unwrap returns the value of {"value": x} wrappers and r itself otherwise.
// Several inventory fields come in either shape depending on the API.
func unwrap(r gjson.Result) gjson.Result {
	if r.IsObject() {
		return r.Get("value")
	}
	return r
}

// firstString returns the first non-empty string among paths, unwrapping
// value objects and taking the first element of arrays.
func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := unwrap(r.Get(p))
		if v.IsArray() {
			arr := v.Array()
			if len(arr) == 0 {
				continue
			}
			v = arr[0]
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}
