// Package modem talks to the embedded web interface of the supported cable
// modems. Every device family implements Adapter; the poller never needs to
// know which one it is driving.
package modem

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sarabveer/cable-modem-stats/internal/metrics"
	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

type Model string

const (
	ModelSB8200 Model = "sb8200"
	ModelS33    Model = "s33"
	ModelXB8    Model = "xb8"
)

// Settings is the part of the configuration the adapters need.
type Settings struct {
	IP       string
	Username string
	Password string
	// SSL selects https for the SB8200 status page. S33 is always https and
	// XB8 always http.
	SSL          bool
	VerifySSL    bool
	AuthRequired bool
	NewAuth      bool
	Timeout      time.Duration
}

// Payload is the unmodified response body of a data request.
type Payload []byte

// Credential is the adapter-specific proof of a logged-in session.
type Credential interface {
	credential()
}

// NoCredential is used when the device does not require a login.
type NoCredential struct{}

// TokenCredential is the SB8200 session: the token echoed by the status page
// and, with the new auth scheme, the sessionId cookie.
type TokenCredential struct {
	Token     string
	SessionID string
}

// KeyPairCredential is an HNAP session.
type KeyPairCredential struct {
	UID        string
	PublicKey  string
	PrivateKey string
}

// CookieCredential holds the cookies set by a form login.
type CookieCredential struct {
	Cookies []*http.Cookie
}

func (NoCredential) credential()      {}
func (TokenCredential) credential()   {}
func (KeyPairCredential) credential() {}
func (CookieCredential) credential()  {}

type Adapter interface {
	Model() Model
	// AuthRequired reports whether Authenticate must succeed before FetchRaw.
	AuthRequired() bool
	// Authenticate performs the device login handshake once. It never retries.
	Authenticate(ctx context.Context) (Credential, error)
	// FetchRaw retrieves the channel data using cred. A login page served
	// instead of data is reported as a *FetchError with ReasonSessionExpired.
	FetchRaw(ctx context.Context, cred Credential) (Payload, error)
	// Parse normalizes a payload. It performs no I/O.
	Parse(raw Payload) (stats.Batch, error)
}

var registry = map[Model]func(Settings, *http.Client) Adapter{
	ModelSB8200: func(s Settings, hc *http.Client) Adapter { return NewSB8200(s, hc) },
	ModelS33:    func(s Settings, hc *http.Client) Adapter { return NewS33(s, hc) },
	ModelXB8:    func(s Settings, hc *http.Client) Adapter { return NewXB8(s, hc) },
}

// ParseModel resolves a configured model name.
func ParseModel(name string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := registry[m]; !ok {
		return "", fmt.Errorf("modem model %q not supported (supported: %s)", name, strings.Join(Models(), ", "))
	}
	return m, nil
}

// Models lists the supported model names.
func Models() []string {
	names := make([]string, 0, len(registry))
	for m := range registry {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return names
}

// New builds the adapter for model. hc carries the timeout and TLS settings,
// see NewHTTPClient.
func New(model Model, s Settings, hc *http.Client) (Adapter, error) {
	newAdapter, ok := registry[model]
	if !ok {
		return nil, fmt.Errorf("modem model %q not supported", model)
	}
	return newAdapter(s, hc), nil
}

// NewHTTPClient returns a client honouring the request timeout and TLS
// verification settings. When m is not nil every request is counted and
// timed.
func NewHTTPClient(s Settings, m *metrics.Metrics) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !s.VerifySSL}

	client := &http.Client{}
	client.Timeout = s.Timeout
	client.Transport = transport
	if m != nil {
		client.Transport = m.InstrumentRoundTripper(transport)
	}
	return client
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
