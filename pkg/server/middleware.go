package server

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/go-training/login-consent/pkg/core"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

var (
	defaultCORSHeaders = []string{"Mcp-Protocol-Version", "Mcp-Session-Id", "Authorization", "Content-Type"}
	corsMethods        = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
)

// RequestID tags the request context with an id, reusing a well-formed
// incoming X-Request-ID, and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(core.WithRequestIDValue(c.Request.Context(), id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// AdminKey checks the HTTP Authorization header for the operator key,
// aborts if missing or wrong.
func AdminKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// CORS lets the listed browser origins call the operator endpoint. "*"
// allows any origin. Preflight requests are answered here.
func CORS(origins []string, allowedHeaders ...string) gin.HandlerFunc {
	headers := strings.Join(mergeHeaders(defaultCORSHeaders, allowedHeaders), ", ")
	allowAny := slices.Contains(origins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAny || slices.Contains(origins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", corsMethods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// mergeHeaders appends extra to defaults, skipping blanks, wildcards and
// case-insensitive duplicates.
func mergeHeaders(defaults, extra []string) []string {
	out := slices.Clone(defaults)
	for _, h := range extra {
		h = strings.TrimSpace(h)
		if h == "" || h == "*" {
			continue
		}
		if slices.ContainsFunc(out, func(s string) bool { return strings.EqualFold(s, h) }) {
			continue
		}
		out = append(out, h)
	}
	return out
}
