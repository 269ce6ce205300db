package flow

// State is a step of the authorization flow for one pending session.
type State int

const (
	// AwaitingSession is the start: the session id has not been resolved.
	AwaitingSession State = iota
	// AwaitingCredentials means the login form is shown.
	AwaitingCredentials
	// AwaitingConsent means the user authenticated and the consent form is shown.
	AwaitingConsent
	// Completed means the code issuer redirected the user back to the client.
	Completed
	// Declined means the user cancelled and was sent back with access_denied.
	Declined
	// Failed means the flow ended on an error page.
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingSession:
		return "awaiting_session"
	case AwaitingCredentials:
		return "awaiting_credentials"
	case AwaitingConsent:
		return "awaiting_consent"
	case Completed:
		return "completed"
	case Declined:
		return "declined"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further postback is expected in s.
func (s State) Terminal() bool {
	return s == Completed || s == Declined || s == Failed
}
