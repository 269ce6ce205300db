package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sibling starts a stub standing in for both sibling services. The caller
// base points at its /login-and-consent path.
func sibling(t *testing.T, h http.Handler) (srv *httptest.Server, callerBase string) {
	t.Helper()
	srv = httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, srv.URL + "/login-and-consent"
}

func TestResolve(t *testing.T) {
	var gotKey, gotAccept, gotPath, gotSession string
	_, base := sibling(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apikey")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		gotSession = r.URL.Query().Get("sessionid")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"client_id": "c1",
			"response_type": "code",
			"scope": "openid",
			"redirect_uri": "https://app/cb",
			"req_state": "xyz",
			"appName": "Demo",
			"appLogoUrl": "https://app/logo.png",
			"nonce": "n-1"
		}`)
	}))

	c := NewClient(WithAPIKey("secret-key"))
	info, err := c.Resolve(context.Background(), "S1 &x", base)
	require.NoError(t, err)

	assert.Equal(t, "secret-key", gotKey)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "/oauth2-session/info", gotPath)
	assert.Equal(t, "S1 &x", gotSession)

	assert.Equal(t, &core.PendingAuthorization{
		ClientID:     "c1",
		ResponseType: "code",
		Scope:        "openid",
		RedirectURI:  "https://app/cb",
		State:        "xyz",
		AppName:      "Demo",
		AppLogoURL:   "https://app/logo.png",
		Nonce:        "n-1",
		SessionID:    "S1 &x",
	}, info)
}

func TestResolve_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "unknown session",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"client_id": `)
			},
		},
		{
			name: "missing client_id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"redirect_uri": "https://app/cb"}`)
			},
		},
		{
			name: "redirect is not followed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/elsewhere", http.StatusFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, base := sibling(t, tt.handler)
			info, err := NewClient().Resolve(context.Background(), "S2", base)
			assert.ErrorIs(t, err, ErrSessionNotFound)
			assert.Nil(t, info)
		})
	}
}

func TestResolve_EmptySessionMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	_, base := sibling(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := NewClient().Resolve(context.Background(), "", base)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, calls.Load())
}

func TestClient_RefusesUnlistedHost(t *testing.T) {
	var calls atomic.Int32
	_, base := sibling(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	l := DefaultLocator()
	l.AllowedHosts = []string{"org.example.net"}
	c := NewClient(WithAPIKey("k"), WithLocator(l))

	_, err := c.Resolve(context.Background(), "S1", base)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorContains(t, err, ErrHostNotAllowed.Error())

	outcome := c.RequestCode(context.Background(), "S1", core.Profile{"email": "dino@apigee.com"}, base)
	assert.False(t, outcome.IsRedirect())
	assert.Equal(t, http.StatusBadRequest, outcome.StatusCode)
	assert.Zero(t, calls.Load())
}

func TestResolve_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/login-and-consent"
	srv.Close()

	_, err := NewClient().Resolve(context.Background(), "S1", base)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResolve_Timeout(t *testing.T) {
	release := make(chan struct{})
	_, base := sibling(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	start := time.Now()
	_, err := NewClient(WithTimeout(50*time.Millisecond)).Resolve(context.Background(), "S1", base)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRequestCode_Redirect(t *testing.T) {
	var form url.Values
	var gotPath, gotSession, gotType string
	_, base := sibling(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSession = r.URL.Query().Get("sessionid")
		gotType = r.Header.Get("Content-Type")
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Location", "https://app/cb?code=abc")
		w.WriteHeader(http.StatusFound)
	}))

	m := metrics.New()
	c := NewClient(WithMetrics(m))
	out := c.RequestCode(context.Background(), "S1", core.Profile{
		"email":       "dino@apigee.com",
		"given_name":  "Dino",
		"family_name": "Chiesa",
		"roles":       []string{"read", "edit", "delete"},
		"status":      "active",
		"password":    "IloveAPIs",
	}, base)

	require.True(t, out.IsRedirect())
	assert.Equal(t, "https://app/cb?code=abc", out.Location)

	assert.Equal(t, "/oauth2-ac-pkce/authcode", gotPath)
	assert.Equal(t, "S1", gotSession)
	assert.Equal(t, "application/x-www-form-urlencoded", gotType)
	assert.Equal(t, "code", form.Get("response_type"))
	assert.Equal(t, "read,edit,delete", form.Get("roles"))
	assert.Equal(t, "dino@apigee.com", form.Get("email"))
	assert.NotContains(t, form, "status")
	assert.NotContains(t, form, "password")

	assert.Equal(t, 1, testutil.CollectAndCount(m.UpstreamLatency))
}

func TestRequestCode_Failure(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		location   string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "issuer error field",
			status:     http.StatusBadRequest,
			body:       `{"Error": "invalid session"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid session",
		},
		{
			name:       "oauth error description",
			status:     http.StatusUnauthorized,
			body:       `{"error": "invalid_client", "error_description": "client is disabled"}`,
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "client is disabled",
		},
		{
			name:       "oauth error code only",
			status:     http.StatusForbidden,
			body:       `{"error": "access_denied"}`,
			wantStatus: http.StatusForbidden,
			wantMsg:    "access_denied",
		},
		{
			name:       "no body",
			status:     http.StatusInternalServerError,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    DefaultCodeFailure,
		},
		{
			name:       "html body",
			status:     http.StatusBadGateway,
			body:       "<html>bad gateway</html>",
			wantStatus: http.StatusBadGateway,
			wantMsg:    DefaultCodeFailure,
		},
		{
			name:       "success status is still a failure",
			status:     http.StatusOK,
			body:       `{}`,
			wantStatus: http.StatusOK,
			wantMsg:    DefaultCodeFailure,
		},
		{
			name:       "302 without location",
			status:     http.StatusFound,
			wantStatus: http.StatusFound,
			wantMsg:    DefaultCodeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, base := sibling(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			out := NewClient().RequestCode(context.Background(), "S1", core.Profile{"email": "a@b"}, base)
			assert.False(t, out.IsRedirect())
			assert.Equal(t, tt.wantStatus, out.StatusCode)
			assert.Equal(t, tt.wantMsg, out.Message)
		})
	}
}

func TestRequestCode_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/login-and-consent"
	srv.Close()

	out := NewClient().RequestCode(context.Background(), "S1", core.Profile{"email": "a@b"}, base)
	assert.False(t, out.IsRedirect())
	assert.Zero(t, out.StatusCode)
	assert.Equal(t, DefaultCodeFailure, out.Message)
}

func TestWithHTTPClient_DoesNotFollowRedirects(t *testing.T) {
	var followed atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2-ac-pkce/authcode", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/landed")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/landed", func(w http.ResponseWriter, r *http.Request) {
		followed.Store(true)
	})
	_, base := sibling(t, mux)

	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return errors.New("follow") }}
	c := NewClient(WithHTTPClient(hc))
	out := c.RequestCode(context.Background(), "S1", core.Profile{"email": "a@b"}, base)

	assert.Equal(t, "/landed", out.Location)
	assert.False(t, followed.Load())
	assert.NotNil(t, hc.CheckRedirect, "caller's client is not modified")
}

func TestFormFromProfile(t *testing.T) {
	form := FormFromProfile(core.Profile{
		"email":    "valerie@example.com",
		"roles":    "read, write",
		"age":      42,
		"verified": true,
		"address":  map[string]any{"city": "Lisbon"},
		"nothing":  nil,
		"status":   "suspended",
		"hash":     "x",
	})

	assert.Equal(t, url.Values{
		"email":         {"valerie@example.com"},
		"roles":         {"read,write"},
		"age":           {"42"},
		"verified":      {"true"},
		"address":       {`{"city":"Lisbon"}`},
		"response_type": {"code"},
	}, form)
}
