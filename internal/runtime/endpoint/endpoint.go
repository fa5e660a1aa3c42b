// Package endpoint models the addresses messages are sent from and to.
//
// An endpoint identifies an application, one running instance of it, and an
// optional endpoint inside that instance. It round-trips to a URI of the form
//
//	scheme://./{appId}/{appInstanceId}/{endpointId}
//
// where every path segment is optional. A missing or empty segment is
// reported as absent (the empty string), never as an empty identifier.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultScheme is used when an endpoint is built from raw identifiers.
const DefaultScheme = "app"

// Endpoint is an immutable address value. The zero value is the empty endpoint.
type Endpoint struct {
	scheme        string
	appID         string
	appInstanceID string
	endpointID    string
	url           string
}

// New builds an endpoint using DefaultScheme.
func New(appID, appInstanceID, endpointID string) Endpoint {
	return NewWithScheme(DefaultScheme, appID, appInstanceID, endpointID)
}

// NewWithScheme builds an endpoint for the supplied scheme. Equal identifiers
// always produce equal URLs.
func NewWithScheme(scheme, appID, appInstanceID, endpointID string) Endpoint {
	if scheme == "" {
		scheme = DefaultScheme
	}
	segments := []string{appID, appInstanceID, endpointID}
	last := len(segments)
	for last > 0 && segments[last-1] == "" {
		last--
	}
	escaped := make([]string, last)
	for i := 0; i < last; i++ {
		escaped[i] = url.PathEscape(segments[i])
	}

	return Endpoint{
		scheme:        scheme,
		appID:         appID,
		appInstanceID: appInstanceID,
		endpointID:    endpointID,
		url:           scheme + "://./" + strings.Join(escaped, "/"),
	}
}

// Parse reads an endpoint from its URI form. Only invalid URI syntax fails.
func Parse(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid address %q: %w", raw, err)
	}
	return FromURL(u), nil
}

// MustParse is like Parse but panics on invalid input. Intended for constants
// and tests.
func MustParse(raw string) Endpoint {
	ep, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ep
}

// FromURL recomputes the identifiers from path segments 1..3 of u.
func FromURL(u *url.URL) Endpoint {
	if u == nil {
		return Endpoint{}
	}
	segments := strings.Split(u.EscapedPath(), "/")
	return Endpoint{
		scheme:        u.Scheme,
		appID:         segment(segments, 1),
		appInstanceID: segment(segments, 2),
		endpointID:    segment(segments, 3),
		url:           u.String(),
	}
}

func segment(segments []string, idx int) string {
	if idx >= len(segments) || segments[idx] == "" {
		return ""
	}
	value, err := url.PathUnescape(segments[idx])
	if err != nil {
		return segments[idx]
	}
	return value
}

// Scheme returns the URI scheme, DefaultScheme when the URL carried none.
func (e Endpoint) Scheme() string {
	if e.scheme == "" {
		return DefaultScheme
	}
	return e.scheme
}

func (e Endpoint) AppID() string         { return e.appID }
func (e Endpoint) AppInstanceID() string { return e.appInstanceID }
func (e Endpoint) EndpointID() string    { return e.endpointID }

// String returns the backing URL.
func (e Endpoint) String() string { return e.url }

// URL parses the backing URL. The result is a fresh copy on every call.
func (e Endpoint) URL() *url.URL {
	u, err := url.Parse(e.url)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// IsZero reports whether e is the empty endpoint.
func (e Endpoint) IsZero() bool { return e.url == "" }

// Equal reports whether both endpoints have the same URL.
func (e Endpoint) Equal(other Endpoint) bool { return e.url == other.url }

// App returns the application-level endpoint, dropping instance and endpoint ids.
func (e Endpoint) App() Endpoint {
	return NewWithScheme(e.Scheme(), e.appID, "", "")
}

// Instance returns the endpoint of the application instance, dropping the endpoint id.
func (e Endpoint) Instance() Endpoint {
	return NewWithScheme(e.Scheme(), e.appID, e.appInstanceID, "")
}

// WithEndpointID returns a copy addressing endpointID inside the same instance.
func (e Endpoint) WithEndpointID(endpointID string) Endpoint {
	return NewWithScheme(e.Scheme(), e.appID, e.appInstanceID, endpointID)
}

// MarshalText encodes the endpoint as its URL.
func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.url), nil
}

// UnmarshalText decodes an endpoint from its URL.
func (e *Endpoint) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*e = Endpoint{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
