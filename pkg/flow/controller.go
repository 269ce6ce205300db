// Package flow drives the login-and-consent steps of an OAuth2 authorization
// code grant: resolve the pending session, authenticate the resource owner,
// collect consent and hand the approved session to the code issuer.
package flow

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/metrics"
	"github.com/go-training/login-consent/pkg/observability"
	"github.com/go-training/login-consent/pkg/upstream"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultLogoURL is shown when the client application has no logo.
const DefaultLogoURL = "https://i.imgur.com/6DidtRS.png"

// SessionCookie marks a browser that completed a login.
const SessionCookie = "lac_session"

// User-facing messages.
const (
	msgUnknownSession  = "the sessionid is not known."
	msgMissingRedirect = "Bad request - missing redirect_uri"
	msgMissingCreds    = "You must specify a user and a password."
	msgLoginFailed     = "That login failed."
	msgInvalidConsent  = "Bad request - the consent could not be verified"
	msgUnavailable     = "The service is temporarily unavailable. Please try again."
	msgNothingHere     = "There's nothing to see here."
	msgDeclined        = "You have declined."
	msgInternalError   = "Something went wrong."
)

// Page titles and form actions.
const (
	titleBadSession = "bad sessionid"
	titleError      = "Error"
	titleNotFound   = "Not found"
	titleDeclined   = "Declined"
	actionSignIn    = "Sign in"
	actionConsent   = "Consent"
)

// Route labels, also the relative postback targets of the forms.
const (
	routeLogin        = "login"
	routeValidate     = "validate"
	routeGrantConsent = "grantConsent"
)

const (
	defaultPostLogout = "cancel"
	sessionCookieAge  = 3600
)

// Authenticator checks submitted credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds core.Credentials) (core.AuthOutcome, error)
}

// CodeRequestor asks the code issuer for an authorization code.
type CodeRequestor interface {
	RequestCode(ctx context.Context, sessionID string, profile core.Profile, callerBase string) core.CodeOutcome
}

// Sealer turns a profile into the consent artifact and back.
type Sealer interface {
	Seal(sessionID string, profile core.Profile) (string, error)
	Open(sessionID, token string) (core.Profile, error)
}

// Controller serves the flow's HTTP surface.
type Controller struct {
	resolver  core.SessionResolver
	auth      Authenticator
	codes     CodeRequestor
	sealer    Sealer
	metrics   *metrics.Metrics
	logo      string
	logoutTo  string
	baseURLFn func(*http.Request) string
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics counts transitions and authentication outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithDefaultLogo sets the logo used when a client has none.
func WithDefaultLogo(u string) Option {
	return func(c *Controller) {
		if u != "" {
			c.logo = u
		}
	}
}

// WithPostLogoutPath sets where /logout sends the browser.
func WithPostLogoutPath(p string) Option {
	return func(c *Controller) {
		if p != "" {
			c.logoutTo = p
		}
	}
}

// NewController wires the flow to its collaborators.
func NewController(resolver core.SessionResolver, auth Authenticator, codes CodeRequestor, sealer Sealer, opts ...Option) *Controller {
	c := &Controller{
		resolver:  resolver,
		auth:      auth,
		codes:     codes,
		sealer:    sealer,
		logo:      DefaultLogoURL,
		logoutTo:  defaultPostLogout,
		baseURLFn: upstream.ExternalBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register installs the views, the flow routes and the catch-all 404 on r.
func (ctl *Controller) Register(r *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return err
	}
	r.SetHTMLTemplate(tmpl)

	r.GET("/login", ctl.Login)
	r.POST("/validate", ctl.Validate)
	r.POST("/grantConsent", ctl.GrantConsent)
	r.GET("/cancel", ctl.Cancel)
	r.GET("/logout", ctl.Logout)
	r.NoRoute(ctl.NotFound)
	return nil
}

// transition records that route moved the flow into state.
func (ctl *Controller) transition(c *gin.Context, route string, state State) {
	ctx := c.Request.Context()
	ctl.metrics.IncTransition(route, state.String())
	observability.AddRequestAttributes(ctx,
		attribute.String("flow.route", route),
		attribute.String("flow.state", state.String()),
	)
	logger := core.LoggerFromCtx(ctx)
	if state.Terminal() {
		logger.Info("Flow finished", "route", route, "state", state)
		return
	}
	logger.Debug("Flow transition", "route", route, "state", state)
}

// Login resolves the session id and shows the login form.
func (ctl *Controller) Login(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)
	sessionID := c.Query("sessionid")

	info, err := ctl.resolver.Resolve(ctx, sessionID, ctl.baseURLFn(c.Request))
	if err != nil {
		logger.Info("Unknown session", "error", err)
		ctl.transition(c, routeLogin, Failed)
		c.HTML(http.StatusNotFound, tmplNotFound, page{
			Title:       titleBadSession,
			MainMessage: msgUnknownSession,
		})
		return
	}

	form := contextFromPending(info)
	form.Display = c.Query("display")
	form.LoginHint = c.Query("login_hint")

	ctl.transition(c, routeLogin, AwaitingCredentials)
	c.HTML(http.StatusOK, tmplLogin, ctl.loginPage(form, ""))
}

// Validate handles the login form postback.
func (ctl *Controller) Validate(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	var form loginForm
	if err := c.ShouldBind(&form); err != nil || form.RedirectURI == "" {
		ctl.badRequest(c, routeValidate, msgMissingRedirect)
		return
	}

	if !form.approved() {
		logger.Info("User declined to log in", "client_id", form.ClientID)
		ctl.decline(c, routeValidate, form.contextForm)
		return
	}

	if form.Username == "" || form.Password == "" {
		ctl.transition(c, routeValidate, AwaitingCredentials)
		c.HTML(http.StatusUnauthorized, tmplLogin, ctl.loginPage(form.contextForm, msgMissingCreds))
		return
	}

	creds := core.Credentials{Username: form.Username, Password: form.Password}
	outcome, err := ctl.auth.Authenticate(ctx, creds)
	if err != nil {
		logger.Error("Credential store failure", "error", err)
		ctl.transition(c, routeValidate, Failed)
		c.HTML(http.StatusServiceUnavailable, tmplError, page{Title: titleError, ErrorMessage: msgUnavailable})
		return
	}
	ctl.metrics.IncAuthOutcome(outcome.Kind.String())

	if outcome.Kind != core.Authenticated {
		logger.Info("Login failed", "creds", creds, "outcome", outcome.Kind)
		ctl.transition(c, routeValidate, AwaitingCredentials)
		c.HTML(http.StatusUnauthorized, tmplLogin, ctl.loginPage(form.contextForm, msgLoginFailed))
		return
	}

	profile := outcome.Profile.Without(core.AttrPassword)
	token, err := ctl.sealer.Seal(form.SessionID, profile)
	if err != nil {
		logger.Error("Failed to seal consent artifact", "error", err)
		ctl.internalError(c, routeValidate)
		return
	}

	ctl.setSessionCookie(c)
	ctl.transition(c, routeValidate, AwaitingConsent)

	p := form.page(ctl.logo)
	p.Title = actionConsent
	p.PostbackURL = routeGrantConsent
	p.Action = actionConsent
	p.Email = profile.Email()
	p.UserProfile = token
	c.HTML(http.StatusOK, tmplConsent, p)
}

// GrantConsent handles the consent form postback.
func (ctl *Controller) GrantConsent(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	var form consentForm
	if err := c.ShouldBind(&form); err != nil || form.RedirectURI == "" {
		ctl.badRequest(c, routeGrantConsent, msgMissingRedirect)
		return
	}

	if !form.approved() {
		logger.Info("User declined consent", "client_id", form.ClientID)
		ctl.decline(c, routeGrantConsent, form.contextForm)
		return
	}

	profile, err := ctl.sealer.Open(form.SessionID, form.UserProfile)
	if err != nil {
		logger.Warn("Rejected consent artifact", "error", err)
		ctl.badRequest(c, routeGrantConsent, msgInvalidConsent)
		return
	}

	outcome := ctl.codes.RequestCode(ctx, form.SessionID, profile, ctl.baseURLFn(c.Request))
	if outcome.IsRedirect() {
		ctl.transition(c, routeGrantConsent, Completed)
		c.Redirect(http.StatusFound, outcome.Location)
		return
	}

	status := outcome.StatusCode
	switch {
	case status == 0:
		status = http.StatusBadRequest
	case status >= 300 && status < 400:
		// A redirect without a Location cannot be followed by the browser.
		status = http.StatusBadGateway
	}
	logger.Info("Authorization code request failed", "status", outcome.StatusCode, "message", outcome.Message)
	ctl.transition(c, routeGrantConsent, Failed)
	c.HTML(status, tmplError, page{Title: titleError, ErrorMessage: outcome.Message})
}

// Cancel shows the informational cancel page.
func (ctl *Controller) Cancel(c *gin.Context) {
	c.HTML(http.StatusOK, tmplCancel, page{Title: titleDeclined, MainMessage: msgDeclined})
}

// Logout clears the session marker and redirects.
func (ctl *Controller) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", ctl.secure(c), true)
	c.Redirect(http.StatusFound, ctl.logoutTo)
}

// NotFound renders the catch-all 404 page.
func (ctl *Controller) NotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, tmplNotFound, page{Title: titleNotFound, MainMessage: msgNothingHere})
}

// RenderInternalError renders the generic 500 page. It is used by the
// recovery middleware.
func (ctl *Controller) RenderInternalError(c *gin.Context) {
	c.HTML(http.StatusInternalServerError, tmplError, page{Title: titleError, ErrorMessage: msgInternalError})
}

func (ctl *Controller) internalError(c *gin.Context, route string) {
	ctl.transition(c, route, Failed)
	ctl.RenderInternalError(c)
}

func (ctl *Controller) badRequest(c *gin.Context, route, msg string) {
	ctl.transition(c, route, Failed)
	c.HTML(http.StatusBadRequest, tmplError, page{Title: titleError, ErrorMessage: msg})
}

// decline reports the cancellation to the client application.
func (ctl *Controller) decline(c *gin.Context, route string, form contextForm) {
	ctl.transition(c, route, Declined)
	c.Redirect(http.StatusFound, DeclineLocation(form.RedirectURI, form.State))
}

func (ctl *Controller) loginPage(form contextForm, errMsg string) page {
	p := form.page(ctl.logo)
	p.Title = actionSignIn
	p.PostbackURL = routeValidate
	p.Action = actionSignIn
	p.ErrorMessage = errMsg
	return p
}

func (ctl *Controller) setSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, uuid.NewString(), sessionCookieAge, "/", "", ctl.secure(c), true)
}

func (ctl *Controller) secure(c *gin.Context) bool {
	return strings.HasPrefix(ctl.baseURLFn(c.Request), "https://")
}

// DeclineLocation is redirectURI with error=access_denied and, when known,
// the client's state added to its query. Any fragment is dropped.
func DeclineLocation(redirectURI, state string) string {
	extra := url.Values{"error": {"access_denied"}}
	if state != "" {
		extra.Set("state", state)
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		sep := "?"
		if strings.Contains(redirectURI, "?") {
			sep = "&"
		}
		return redirectURI + sep + extra.Encode()
	}

	if q := u.Query(); q.Has("error") || q.Has("state") {
		q.Del("error")
		q.Del("state")
		u.RawQuery = q.Encode()
	}
	if u.RawQuery == "" {
		u.RawQuery = extra.Encode()
	} else {
		u.RawQuery += "&" + extra.Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
