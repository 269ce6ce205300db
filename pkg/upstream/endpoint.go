package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Headers a fronting proxy uses to describe the externally visible URL.
const (
	HeaderClientScheme   = "X-Client-Scheme"
	HeaderExternalHost   = "X-External-Host"
	HeaderProxyBasepath  = "X-Proxy-Basepath"
	HeaderForwardedProto = "X-Forwarded-Proto"
	HeaderForwardedHost  = "X-Forwarded-Host"
)

// Default path segments of the login app and its sibling services.
const (
	DefaultOwnSegment     = "login-and-consent"
	DefaultSessionSegment = "oauth2-session"
	DefaultIssuerSegment  = "oauth2-ac-pkce"
)

// ExternalBaseURL reconstructs the caller-visible base URL of this app from
// the proxy headers on r, falling back to the request itself.
func ExternalBaseURL(r *http.Request) string {
	scheme := firstHeader(r, HeaderClientScheme, HeaderForwardedProto)
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	scheme = strings.TrimSuffix(scheme, ":")

	host := firstHeader(r, HeaderExternalHost, HeaderForwardedHost)
	if host == "" {
		host = r.Host
	}

	u := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   r.Header.Get(HeaderProxyBasepath),
	}
	if u.Path != "" && !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return strings.TrimSuffix(u.String(), "/")
}

// firstHeader returns the first non-empty value among the named headers.
// Comma separated forwarded lists yield their first element.
func firstHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			v, _, _ = strings.Cut(v, ",")
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ErrHostNotAllowed is returned for a caller base whose host is not in the
// locator's allowlist.
var ErrHostNotAllowed = errors.New("host not allowed")

// Locator finds sibling services relative to this app's own base URL by
// swapping its path segment for theirs.
type Locator struct {
	OwnSegment     string
	SessionSegment string
	IssuerSegment  string
	// AllowedHosts restricts the hosts sibling calls may target. Entries
	// match the host with or without its port. Empty allows any host.
	AllowedHosts []string
}

// CheckBase reports whether callerBase may be used to derive sibling
// endpoints.
func (l Locator) CheckBase(callerBase string) error {
	if len(l.AllowedHosts) == 0 {
		return nil
	}
	u, err := url.Parse(callerBase)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHostNotAllowed, err)
	}
	for _, h := range l.AllowedHosts {
		h = strings.TrimSpace(h)
		if h != "" && (strings.EqualFold(h, u.Host) || strings.EqualFold(h, u.Hostname())) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrHostNotAllowed, u.Host)
}

// DefaultLocator returns the segment layout of the standard deployment.
func DefaultLocator() Locator {
	return Locator{
		OwnSegment:     DefaultOwnSegment,
		SessionSegment: DefaultSessionSegment,
		IssuerSegment:  DefaultIssuerSegment,
	}
}

// SessionBase returns the session directory base for callerBase.
func (l Locator) SessionBase(callerBase string) string {
	return l.Sibling(callerBase, l.SessionSegment)
}

// IssuerBase returns the code issuer base for callerBase.
func (l Locator) IssuerBase(callerBase string) string {
	return l.Sibling(callerBase, l.IssuerSegment)
}

// Sibling replaces the first occurrence of the own segment in the path of
// callerBase with segment. When the own segment does not appear, segment is
// appended.
func (l Locator) Sibling(callerBase, segment string) string {
	u, err := url.Parse(strings.TrimSuffix(callerBase, "/"))
	if err != nil {
		return strings.TrimSuffix(callerBase, "/") + "/" + segment
	}
	if l.OwnSegment != "" && strings.Contains(u.Path, l.OwnSegment) {
		u.Path = strings.Replace(u.Path, l.OwnSegment, segment, 1)
	} else {
		u.Path += "/" + segment
	}
	u.RawPath = ""
	return u.String()
}
