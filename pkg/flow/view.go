package flow

import (
	"embed"
	"html/template"
	"strings"

	"github.com/go-training/login-consent/pkg/core"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Template names.
const (
	tmplLogin    = "login.tmpl"
	tmplConsent  = "consent.tmpl"
	tmplCancel   = "cancel.tmpl"
	tmplError    = "error.tmpl"
	tmplNotFound = "error404.tmpl"
)

// Templates parses the embedded views.
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.tmpl")
}

// page is the data every view renders from.
type page struct {
	Title        string
	MainMessage  string
	ErrorMessage string

	PostbackURL string
	Action      string

	SessionID    string
	ClientID     string
	ResponseType string
	Scope        string
	RedirectURI  string
	State        string
	AppName      string
	AppLogoURL   string
	Display      string
	LoginHint    string

	Email       string
	UserProfile string
}

// Scopes splits the requested scope string for display.
func (p page) Scopes() []string {
	return strings.Fields(p.Scope)
}

// contextForm is the pending authorization carried by hidden fields through
// both postbacks.
type contextForm struct {
	SessionID    string `form:"sessionid" json:"sessionid"`
	ClientID     string `form:"client_id" json:"client_id"`
	ResponseType string `form:"response_type" json:"response_type"`
	Scope        string `form:"requestedScopes" json:"requestedScopes"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	State        string `form:"clientState" json:"clientState"`
	AppName      string `form:"appName" json:"appName"`
	AppLogoURL   string `form:"appLogoUrl" json:"appLogoUrl"`
	Display      string `form:"display" json:"display"`
	LoginHint    string `form:"login_hint" json:"login_hint"`
	Submit       string `form:"submit" json:"submit"`
}

// loginForm is the /validate postback.
type loginForm struct {
	contextForm
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// consentForm is the /grantConsent postback.
type consentForm struct {
	contextForm
	UserProfile string `form:"userProfile" json:"userProfile"`
}

func (f contextForm) approved() bool {
	return f.Submit == "yes"
}

// page seeds a view with the round-tripped context.
func (f contextForm) page(defaultLogo string) page {
	logo := f.AppLogoURL
	if logo == "" {
		logo = defaultLogo
	}
	return page{
		SessionID:    f.SessionID,
		ClientID:     f.ClientID,
		ResponseType: f.ResponseType,
		Scope:        f.Scope,
		RedirectURI:  f.RedirectURI,
		State:        f.State,
		AppName:      f.AppName,
		AppLogoURL:   logo,
		Display:      f.Display,
		LoginHint:    f.LoginHint,
	}
}

// contextFromPending builds the hidden fields for a freshly resolved session.
func contextFromPending(info *core.PendingAuthorization) contextForm {
	return contextForm{
		SessionID:    info.SessionID,
		ClientID:     info.ClientID,
		ResponseType: info.ResponseType,
		Scope:        info.Scope,
		RedirectURI:  info.RedirectURI,
		State:        info.State,
		AppName:      info.AppName,
		AppLogoURL:   info.AppLogoURL,
	}
}
