// Package mdatp implements the live-response capability set against the
// Microsoft Defender for Endpoint API.
package mdatp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/poll"
	"github.com/mfittko/vlad/internal/transport"
	"go.uber.org/zap"
)

// Name is the vendor name used on the command line and in messages.
const Name = "MDATP"

const (
	DefaultBaseURL  = "https://api-eu.securitycenter.microsoft.com"
	DefaultLoginURL = "https://login.microsoftonline.com"
)

// DefaultPolicy polls every 5s for at most 600s. The initial delay lets a
// freshly submitted action show up in the machine actions API.
var DefaultPolicy = poll.Policy{
	Interval:     5 * time.Second,
	InitialDelay: 5 * time.Second,
	RetryDelay:   5 * time.Second,
	Timeout:      600 * time.Second,
}

// cancelSettle is waited after canceling pending actions; the API keeps
// rejecting new actions for a short while after a cancel.
const cancelSettle = 10 * time.Second

// Options configures the adapter.
type Options struct {
	HTTP   *transport.Client
	Logger *zap.Logger
	Clock  poll.Clock
	Policy *poll.Policy
	// CancelSettle overrides the wait after canceling pending actions.
	CancelSettle *time.Duration
}

// Adapter talks to one Defender tenant.
type Adapter struct {
	http         *transport.Client
	logger       *zap.Logger
	clock        poll.Clock
	policy       poll.Policy
	cancelSettle time.Duration
}

var _ edr.Vendor = (*Adapter)(nil)

// New creates an adapter with defaults for anything opts leaves unset.
func New(opts Options) *Adapter {
	a := &Adapter{
		http:         opts.HTTP,
		logger:       opts.Logger,
		clock:        opts.Clock,
		policy:       DefaultPolicy,
		cancelSettle: cancelSettle,
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
	if opts.CancelSettle != nil {
		a.cancelSettle = *opts.CancelSettle
	}
	return a
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) PollPolicy() poll.Policy { return a.policy }

// Supports reports true for every capability.
func (a *Adapter) Supports(edr.Capability) bool { return true }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Authenticate exchanges the app registration secret for a bearer token
// using the OAuth2 client-credentials grant.
func (a *Adapter) Authenticate(ctx context.Context, cred edr.Credential) (*edr.Session, error) {
	baseURL := strings.TrimRight(cred.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	loginURL := strings.TrimRight(cred.LoginURL, "/")
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}

	req := a.http.R(ctx, "").SetFormData(map[string]string{
		"resource":      baseURL,
		"client_id":     cred.AppID,
		"client_secret": cred.AppSecret,
		"grant_type":    "client_credentials",
	})
	resp, err := a.http.Do(req, http.MethodPost, loginURL+"/"+cred.TenantID+"/oauth2/token", "authenticate")
	if err != nil {
		if edr.KindOf(err) == edr.KindTransport {
			return nil, err
		}
		return nil, asAuthError(err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil || tok.AccessToken == "" {
		return nil, &edr.Error{Kind: edr.KindAuth, Vendor: Name, Op: "authenticate", Body: "token response carried no access_token"}
	}
	a.logger.Debug("authenticated", zap.String("tenant", cred.TenantID))
	return &edr.Session{Token: tok.AccessToken, BaseURL: baseURL}, nil
}

// asAuthError reclassifies token endpoint rejections: any 4xx there means the
// credentials are wrong.
func asAuthError(err error) error {
	var e *edr.Error
	if errors.As(err, &e) {
		c := *e
		c.Kind = edr.KindAuth
		return &c
	}
	return err
}

// get issues an authenticated GET and decodes the JSON body into out.
func (a *Adapter) get(ctx context.Context, s *edr.Session, url, op string, out any) error {
	resp, err := a.http.Do(a.http.R(ctx, s.Token), http.MethodGet, url, op)
	if err != nil {
		return err
	}
	return decode(resp, op, out)
}

func decode(resp *resty.Response, op string, out any) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &edr.Error{Kind: edr.KindProtocol, Vendor: Name, Op: op, Err: err}
	}
	return nil
}
