package flow

import (
	"context"
	"errors"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/go-training/login-consent/pkg/artifact"
	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/credential"
	"github.com/go-training/login-consent/pkg/metrics"
	"github.com/go-training/login-consent/pkg/store"
	"github.com/go-training/login-consent/pkg/upstream"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeResolver knows a fixed set of sessions.
type fakeResolver struct {
	sessions map[string]core.PendingAuthorization
	calls    int
}

func (f *fakeResolver) Resolve(_ context.Context, sessionID, _ string) (*core.PendingAuthorization, error) {
	f.calls++
	info, ok := f.sessions[sessionID]
	if !ok {
		return nil, upstream.ErrSessionNotFound
	}
	info.SessionID = sessionID
	return &info, nil
}

// fakeRequestor records code requests and answers with a fixed outcome.
type fakeRequestor struct {
	outcome   core.CodeOutcome
	calls     int
	sessionID string
	profile   core.Profile
}

func (f *fakeRequestor) RequestCode(_ context.Context, sessionID string, profile core.Profile, _ string) core.CodeOutcome {
	f.calls++
	f.sessionID = sessionID
	f.profile = profile
	return f.outcome
}

// failingAuth stands in for a store that is down.
type failingAuth struct{}

func (failingAuth) Authenticate(context.Context, core.Credentials) (core.AuthOutcome, error) {
	return core.AuthOutcome{}, errors.New("redis: connection refused")
}

type harness struct {
	router    *gin.Engine
	resolver  *fakeResolver
	requestor *fakeRequestor
	sealer    *artifact.Sealer
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	validator, err := credential.NewValidator(store.NewDefaultMemoryStore(), credential.WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)
	key, err := artifact.NewRandomKey()
	require.NoError(t, err)
	sealer, err := artifact.NewSealer(key)
	require.NoError(t, err)

	h := &harness{
		resolver: &fakeResolver{sessions: map[string]core.PendingAuthorization{
			"S1": {ClientID: "c1", RedirectURI: "https://app/cb", Scope: "openid", ResponseType: "code", AppName: "Demo App"},
		}},
		requestor: &fakeRequestor{outcome: core.RedirectTo("https://app/cb?code=abc")},
		sealer:    sealer,
		metrics:   metrics.New(),
	}

	opts = append([]Option{WithMetrics(h.metrics)}, opts...)
	ctl := NewController(h.resolver, validator, h.requestor, sealer, opts...)
	h.router = gin.New()
	require.NoError(t, ctl.Register(h.router))
	return h
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func (h *harness) post(target string, form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.router.ServeHTTP(w, req)
	return w
}

// loginPostback is the form the login page posts for session S1.
func loginPostback(username, password, submit string) url.Values {
	return url.Values{
		"sessionid":       {"S1"},
		"client_id":       {"c1"},
		"response_type":   {"code"},
		"requestedScopes": {"openid"},
		"redirect_uri":    {"https://app/cb"},
		"appName":         {"Demo App"},
		"username":        {username},
		"password":        {password},
		"submit":          {submit},
	}
}

var hiddenField = regexp.MustCompile(`name="([^"]+)" value="([^"]*)"`)

// hiddenFields extracts the hidden inputs of a rendered form.
func hiddenFields(body string) url.Values {
	out := url.Values{}
	for _, m := range hiddenField.FindAllStringSubmatch(body, -1) {
		out.Set(m[1], html.UnescapeString(m[2]))
	}
	return out
}

func TestLogin_KnownSession(t *testing.T) {
	h := newHarness(t)

	w := h.get("/login?sessionid=S1&login_hint=dino%40apigee.com")
	require.Equal(t, http.StatusOK, w.Code)

	fields := hiddenFields(w.Body.String())
	assert.Equal(t, "S1", fields.Get("sessionid"))
	assert.Equal(t, "c1", fields.Get("client_id"))
	assert.Equal(t, "https://app/cb", fields.Get("redirect_uri"))
	assert.Equal(t, "openid", fields.Get("requestedScopes"))
	assert.Equal(t, "dino@apigee.com", fields.Get("login_hint"))
	assert.Equal(t, DefaultLogoURL, fields.Get("appLogoUrl"))
	assert.Contains(t, w.Body.String(), `action="validate"`)
}

func TestLogin_UnknownSession(t *testing.T) {
	for _, target := range []string{"/login?sessionid=S2", "/login?sessionid=", "/login"} {
		t.Run(target, func(t *testing.T) {
			h := newHarness(t)
			w := h.get(target)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Contains(t, w.Body.String(), "the sessionid is not known.")
		})
	}
}

func TestValidate_Authenticated(t *testing.T) {
	h := newHarness(t)

	w := h.post("/validate", loginPostback("dino@apigee.com", "IloveAPIs", "yes"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `action="grantConsent"`)
	assert.NotContains(t, w.Body.String(), "IloveAPIs")

	fields := hiddenFields(w.Body.String())
	assert.Equal(t, "https://app/cb", fields.Get("redirect_uri"))

	profile, err := h.sealer.Open("S1", fields.Get("userProfile"))
	require.NoError(t, err)
	assert.NotContains(t, profile, "password")
	assert.Equal(t, "dino@apigee.com", profile.Email())
	assert.Equal(t, "Dino", profile.GivenName())

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuthOutcomes.WithLabelValues("authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues(routeValidate, AwaitingConsent.String())))
}

func TestValidate_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantMsg  string
	}{
		{name: "wrong password", username: "dino@apigee.com", password: "iloveapis", wantMsg: "That login failed."},
		{name: "unknown user", username: "nobody@example.com", password: "IloveAPIs", wantMsg: "That login failed."},
		{name: "missing password", username: "dino@apigee.com", wantMsg: "You must specify a user and a password."},
		{name: "missing username", password: "IloveAPIs", wantMsg: "You must specify a user and a password."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			w := h.post("/validate", loginPostback(tt.username, tt.password, "yes"))
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			body := w.Body.String()
			assert.Contains(t, body, html.EscapeString(tt.wantMsg))
			assert.Contains(t, body, `action="validate"`)
			assert.Equal(t, "S1", hiddenFields(body).Get("sessionid"))
			assert.Equal(t, "https://app/cb", hiddenFields(body).Get("redirect_uri"))
			assert.NotContains(t, body, "userProfile")
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestValidate_StoreFailure(t *testing.T) {
	h := newHarness(t)
	ctl := NewController(h.resolver, failingAuth{}, h.requestor, h.sealer)
	r := gin.New()
	require.NoError(t, ctl.Register(r))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/validate",
		strings.NewReader(loginPostback("dino@apigee.com", "IloveAPIs", "yes").Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "redis")
}

func TestDecline(t *testing.T) {
	tests := []struct {
		name   string
		route  string
		form   url.Values
		wantTo string
	}{
		{
			name:   "login cancelled with valid credentials",
			route:  "/validate",
			form:   loginPostback("dino@apigee.com", "IloveAPIs", ""),
			wantTo: "https://app/cb?error=access_denied",
		},
		{
			name:   "login cancelled with bad credentials",
			route:  "/validate",
			form:   loginPostback("dino@apigee.com", "wrong", "no"),
			wantTo: "https://app/cb?error=access_denied",
		},
		{
			name:   "consent declined",
			route:  "/grantConsent",
			form:   url.Values{"sessionid": {"S1"}, "redirect_uri": {"https://app/cb"}, "userProfile": {"garbage"}},
			wantTo: "https://app/cb?error=access_denied",
		},
		{
			name:   "state echoed and query preserved",
			route:  "/grantConsent",
			form:   url.Values{"redirect_uri": {"https://app/cb?x=1"}, "clientState": {"a b"}, "submit": {"no"}},
			wantTo: "https://app/cb?x=1&error=access_denied&state=a+b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			w := h.post(tt.route, tt.form)
			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.wantTo, w.Header().Get("Location"))
			assert.Zero(t, h.requestor.calls)
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestMissingRedirectURI(t *testing.T) {
	h := newHarness(t)

	login := loginPostback("dino@apigee.com", "IloveAPIs", "yes")
	login.Del("redirect_uri")
	w := h.post("/validate", login)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing redirect_uri")

	token, err := h.sealer.Seal("S1", core.Profile{"email": "dino@apigee.com"})
	require.NoError(t, err)
	w = h.post("/grantConsent", url.Values{"sessionid": {"S1"}, "userProfile": {token}, "submit": {"yes"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, h.requestor.calls)

	login.Set("submit", "no")
	w = h.post("/validate", login)
	assert.Equal(t, http.StatusBadRequest, w.Code, "decline without redirect_uri has nowhere to go")
}

func TestGrantConsent_Redirect(t *testing.T) {
	h := newHarness(t)
	token, err := h.sealer.Seal("S1", core.Profile{"email": "dino@apigee.com", "roles": []string{"read"}})
	require.NoError(t, err)

	w := h.post("/grantConsent", url.Values{
		"sessionid":    {"S1"},
		"redirect_uri": {"https://app/cb"},
		"userProfile":  {token},
		"submit":       {"yes"},
	})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://app/cb?code=abc", w.Header().Get("Location"))
	require.Equal(t, 1, h.requestor.calls)
	assert.Equal(t, "S1", h.requestor.sessionID)
	assert.Equal(t, "dino@apigee.com", h.requestor.profile.Email())
}

func TestGrantConsent_IssuerFailure(t *testing.T) {
	tests := []struct {
		name       string
		outcome    core.CodeOutcome
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "issuer status forwarded",
			outcome:    core.CodeFailure(http.StatusForbidden, "client disabled"),
			wantStatus: http.StatusForbidden,
			wantMsg:    "client disabled",
		},
		{
			name:       "unreachable issuer",
			outcome:    core.CodeFailure(0, upstream.DefaultCodeFailure),
			wantStatus: http.StatusBadRequest,
			wantMsg:    upstream.DefaultCodeFailure,
		},
		{
			name:       "redirect without location",
			outcome:    core.CodeFailure(http.StatusFound, upstream.DefaultCodeFailure),
			wantStatus: http.StatusBadGateway,
			wantMsg:    upstream.DefaultCodeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.requestor.outcome = tt.outcome
			token, err := h.sealer.Seal("S1", core.Profile{"email": "dino@apigee.com"})
			require.NoError(t, err)

			w := h.post("/grantConsent", url.Values{
				"sessionid":    {"S1"},
				"redirect_uri": {"https://app/cb"},
				"userProfile":  {token},
				"submit":       {"yes"},
			})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, w.Header().Get("Location"))
			assert.Contains(t, w.Body.String(), tt.wantMsg)
		})
	}
}

func TestGrantConsent_UntrustedArtifact(t *testing.T) {
	h := newHarness(t)
	otherSession, err := h.sealer.Seal("S9", core.Profile{"email": "dino@apigee.com"})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":         "",
		"plain base64":  "eyJlbWFpbCI6ImRpbm9AYXBpZ2VlLmNvbSJ9",
		"other session": otherSession,
	} {
		t.Run(name, func(t *testing.T) {
			w := h.post("/grantConsent", url.Values{
				"sessionid":    {"S1"},
				"redirect_uri": {"https://app/cb"},
				"userProfile":  {token},
				"submit":       {"yes"},
			})
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Zero(t, h.requestor.calls)
}

func TestCancelLogoutNotFound(t *testing.T) {
	h := newHarness(t, WithPostLogoutPath("/goodbye"))

	w := h.get("/cancel")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "You have declined.")

	w = h.get("/logout")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/goodbye", w.Header().Get("Location"))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)

	for _, target := range []string{"/", "/nothing", "/login/extra"} {
		w = h.get(target)
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.Contains(t, w.Body.String(), html.EscapeString("There's nothing to see here."))
	}

	w = h.post("/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeclineLocation(t *testing.T) {
	assert.Equal(t, "https://app/cb?error=access_denied", DeclineLocation("https://app/cb", ""))
	assert.Equal(t, "https://app/cb?a=1&error=access_denied", DeclineLocation("https://app/cb?a=1", ""))
	assert.Equal(t, "https://app/cb?error=access_denied&state=s%261", DeclineLocation("https://app/cb", "s&1"))
	assert.Equal(t, "https://app/cb?error=access_denied&state=xyz", DeclineLocation("https://app/cb#frag", "xyz"))
	assert.Equal(t, "https://app/cb?error=access_denied&state=xyz", DeclineLocation("https://app/cb?error=other#frag", "xyz"))
}

func TestDecline_JSONBody(t *testing.T) {
	h := newHarness(t)

	body := `{"sessionid":"S1","redirect_uri":"https://app/cb","clientState":"xyz","submit":"no"}`
	for _, route := range []string{"/validate", "/grantConsent"} {
		t.Run(route, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, route, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, "https://app/cb?error=access_denied&state=xyz", w.Header().Get("Location"))
		})
	}
}

func TestValidate_JSONBody(t *testing.T) {
	h := newHarness(t)

	body := `{"sessionid":"S1","redirect_uri":"https://app/cb","username":"dino@apigee.com","password":"IloveAPIs","submit":"yes"}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `action="grantConsent"`)
}

func TestState(t *testing.T) {
	assert.Equal(t, "awaiting_session", AwaitingSession.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.False(t, AwaitingConsent.Terminal())
	for _, s := range []State{Completed, Declined, Failed} {
		assert.True(t, s.Terminal(), s.String())
	}
}
