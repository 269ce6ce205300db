package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-training/login-consent/pkg/core"
)

// ErrSessionNotFound is returned for any session the directory cannot
// describe: unknown, expired, unreachable directory or malformed answer.
var ErrSessionNotFound = errors.New("session not found")

// maxInfoSize bounds the session directory response body.
const maxInfoSize = 64 * 1024

var _ core.SessionResolver = (*Client)(nil)

// Resolve asks the session directory next to callerBase for the pending
// authorization behind sessionID. Every failure is reported as
// ErrSessionNotFound, wrapped with the cause for logging.
func (c *Client) Resolve(ctx context.Context, sessionID, callerBase string) (*core.PendingAuthorization, error) {
	logger := core.LoggerFromCtx(ctx)

	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	if err := c.locator.CheckBase(callerBase); err != nil {
		logger.Warn("Refusing session lookup", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}

	endpoint := c.locator.SessionBase(callerBase) + "/info?" + url.Values{"sessionid": {sessionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, targetSession, req)
	if err != nil {
		logger.Warn("Session directory unreachable", "endpoint", endpoint, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debug("Session directory rejected session", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrSessionNotFound, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}

	var info core.PendingAuthorization
	if err := json.Unmarshal(body, &info); err != nil {
		logger.Warn("Malformed session info", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	if info.ClientID == "" {
		return nil, fmt.Errorf("%w: no client_id", ErrSessionNotFound)
	}

	info.SessionID = sessionID
	logger.Debug("Session resolved", "client_id", info.ClientID, "scope", info.Scope)
	return &info, nil
}
