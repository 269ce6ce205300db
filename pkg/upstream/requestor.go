package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-training/login-consent/pkg/core"
)

// DefaultCodeFailure is shown when the code issuer gives no reason.
const DefaultCodeFailure = "Bad request - cannot redirect"

const maxErrorBodySize = 16 * 1024

// issuerError is the error document the code issuer may return.
type issuerError struct {
	Error            string `json:"Error"`
	LowerError       string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e issuerError) message() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.ErrorDescription != "":
		return e.ErrorDescription
	default:
		return e.LowerError
	}
}

// RequestCode asks the code issuer next to callerBase for an authorization
// code on behalf of the consenting user. A 302 with a Location is a
// redirect; anything else is a failure carrying the issuer's status and
// message. A transport failure has status 0.
func (c *Client) RequestCode(ctx context.Context, sessionID string, profile core.Profile, callerBase string) core.CodeOutcome {
	logger := core.LoggerFromCtx(ctx)

	if err := c.locator.CheckBase(callerBase); err != nil {
		logger.Warn("Refusing code request", "error", err)
		return core.CodeFailure(http.StatusBadRequest, DefaultCodeFailure)
	}

	endpoint := c.locator.IssuerBase(callerBase) + "/authcode?" + url.Values{"sessionid": {sessionID}}.Encode()
	form := FormFromProfile(profile)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		logger.Error("Failed to build authcode request", "error", err)
		return core.CodeFailure(0, DefaultCodeFailure)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, targetIssuer, req)
	if err != nil {
		logger.Warn("Code issuer unreachable", "endpoint", endpoint, "error", err)
		return core.CodeFailure(0, DefaultCodeFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound {
		if loc := resp.Header.Get("Location"); loc != "" {
			logger.Debug("Code issuer redirected", "session_id", sessionID)
			return core.RedirectTo(loc)
		}
		logger.Warn("Code issuer redirect without location")
		return core.CodeFailure(resp.StatusCode, DefaultCodeFailure)
	}

	msg := DefaultCodeFailure
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var ie issuerError
	if json.Unmarshal(body, &ie) == nil && ie.message() != "" {
		msg = ie.message()
	}
	logger.Info("Code issuer refused", "status", resp.StatusCode, "message", msg)
	return core.CodeFailure(resp.StatusCode, msg)
}

// FormFromProfile builds the authcode form body from a consenting user's
// profile: every attribute except status and credentials, roles joined with
// commas, nested values JSON encoded, and response_type=code.
func FormFromProfile(profile core.Profile) url.Values {
	form := url.Values{}
	for k, v := range profile.Public().Without(core.AttrStatus) {
		if k == core.AttrRoles {
			continue
		}
		if s, ok := formValue(v); ok {
			form.Set(k, s)
		}
	}
	if roles := profile.Roles(); len(roles) > 0 {
		form.Set(core.AttrRoles, strings.Join(roles, ","))
	}
	form.Set("response_type", "code")
	return form
}

func formValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool, int, int64, float64, json.Number:
		return fmt.Sprint(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
