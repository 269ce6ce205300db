package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// PendingAuthorization is the pending OAuth request a session id stands for,
// as reported by the session directory.
type PendingAuthorization struct {
	ClientID     string `json:"client_id"`
	ResponseType string `json:"response_type"`
	Scope        string `json:"scope"`
	RedirectURI  string `json:"redirect_uri"`
	State        string `json:"state"`
	AppName      string `json:"appName"`
	AppLogoURL   string `json:"appLogoUrl"`
	Nonce        string `json:"nonce,omitempty"`
	SessionID    string `json:"-"`
}

// UnmarshalJSON also accepts the older req_state key for the client state.
func (p *PendingAuthorization) UnmarshalJSON(data []byte) error {
	type plain PendingAuthorization
	var aux struct {
		plain
		ReqState string `json:"req_state"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = PendingAuthorization(aux.plain)
	if p.State == "" {
		p.State = aux.ReqState
	}
	return nil
}

// Credentials is a username/password pair submitted on the login form.
type Credentials struct {
	Username string
	Password string
}

// LogValue keeps the password out of every log line.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("password_present", c.Password != ""),
	)
}

// Profile attribute names with special meaning.
const (
	AttrEmail        = "email"
	AttrGivenName    = "given_name"
	AttrFamilyName   = "family_name"
	AttrRoles        = "roles"
	AttrStatus       = "status"
	AttrPassword     = "password"
	AttrPasswordHash = "password_hash"
	AttrHash         = "hash"
)

// secretAttrs never leave the credential store.
var secretAttrs = []string{AttrPassword, AttrPasswordHash, AttrHash}

// IsSecretAttr reports whether name is a credential attribute.
func IsSecretAttr(name string) bool {
	return slices.Contains(secretAttrs, name)
}

// Profile is the authenticated user's attribute bag. Besides the well-known
// attributes it carries whatever extra fields the credential store holds.
type Profile map[string]any

func (p Profile) str(key string) string {
	s, _ := p[key].(string)
	return s
}

// Email returns the email attribute.
func (p Profile) Email() string { return p.str(AttrEmail) }

// GivenName returns the given_name attribute.
func (p Profile) GivenName() string { return p.str(AttrGivenName) }

// FamilyName returns the family_name attribute.
func (p Profile) FamilyName() string { return p.str(AttrFamilyName) }

// Roles returns the roles attribute whether it is stored as a list or as a
// comma separated string.
func (p Profile) Roles() []string {
	switch v := p[AttrRoles].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			roles = append(roles, fmt.Sprint(r))
		}
		return roles
	case string:
		return SplitRoles(v)
	default:
		return nil
	}
}

// Clone returns a shallow copy of the profile.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Without returns a copy of the profile minus the named attributes.
func (p Profile) Without(names ...string) Profile {
	out := p.Clone()
	for _, n := range names {
		delete(out, n)
	}
	return out
}

// Public returns a copy with every credential attribute stripped.
func (p Profile) Public() Profile {
	return p.Without(secretAttrs...)
}

// SplitRoles splits a comma separated role list, dropping blanks.
func SplitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// UserRecord is a stored credential record. Exactly one of Password
// (plaintext, compatible with the mock table) or PasswordHash (bcrypt) is
// normally set.
type UserRecord struct {
	Username     string
	Password     string
	PasswordHash string
	Attributes   map[string]any
}

// HasSecret reports whether the record can be authenticated against.
func (r *UserRecord) HasSecret() bool {
	return r.Password != "" || r.PasswordHash != ""
}

// Profile builds the public profile for the record: stored attributes minus
// credentials, with the username copied into email.
func (r *UserRecord) Profile() Profile {
	p := Profile(r.Attributes).Public()
	p[AttrEmail] = r.Username
	return p
}

// CredentialStore looks up stored credential records by username.
// Implementations return an error wrapping store.ErrUserNotFound on a miss.
type CredentialStore interface {
	LookupUser(ctx context.Context, username string) (*UserRecord, error)
	Ping(ctx context.Context) error
}

// SessionResolver expands a session id into its pending authorization.
// callerBase is the externally visible base URL of the calling flow.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID, callerBase string) (*PendingAuthorization, error)
}

// OutcomeKind tags an AuthOutcome.
type OutcomeKind int

const (
	// Unauthenticated means the credentials were missing or did not match.
	Unauthenticated OutcomeKind = iota
	// Authenticated means the credentials matched a stored record.
	Authenticated
	// UserNotFound means no record exists for the username.
	UserNotFound
)

func (k OutcomeKind) String() string {
	switch k {
	case Authenticated:
		return "authenticated"
	case UserNotFound:
		return "user_not_found"
	default:
		return "unauthenticated"
	}
}

// AuthOutcome is the result of a credential check. Profile is only set when
// Kind is Authenticated.
type AuthOutcome struct {
	Kind    OutcomeKind
	Profile Profile
}

// CodeOutcome is the result of asking the code issuer for an authorization
// code: either a redirect Location or a failure status and message.
type CodeOutcome struct {
	Location   string
	StatusCode int
	Message    string
}

// RedirectTo builds a successful CodeOutcome.
func RedirectTo(location string) CodeOutcome {
	return CodeOutcome{Location: location}
}

// CodeFailure builds a failed CodeOutcome. A zero status means the issuer
// could not be reached.
func CodeFailure(status int, message string) CodeOutcome {
	return CodeOutcome{StatusCode: status, Message: message}
}

// IsRedirect reports whether the issuer returned a redirect location.
func (o CodeOutcome) IsRedirect() bool {
	return o.Location != ""
}
