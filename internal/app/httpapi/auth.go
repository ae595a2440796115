package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var errOperatorRequired = errors.New("operator token required")

// operatorAuth accepts static bearer tokens for operator-only routes.
type operatorAuth struct {
	tokens [][]byte
}

func newOperatorAuth(tokens []string) *operatorAuth {
	a := &operatorAuth{}
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token != "" {
			a.tokens = append(a.tokens, []byte(token))
		}
	}
	return a
}

func (a *operatorAuth) isOperator(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := []byte(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	if len(presented) == 0 {
		return false
	}
	for _, token := range a.tokens {
		if subtle.ConstantTimeCompare(presented, token) == 1 {
			return true
		}
	}
	return false
}

// operator guards next with the operator token check. A non-empty action is
// written to the audit log with the final status.
func (h *Handler) operator(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.auth.isOperator(r) {
			h.log.WithField("path", r.URL.Path).
				WithField("remote_addr", r.RemoteAddr).
				Warn("operator route rejected")
			writeError(w, http.StatusUnauthorized, errOperatorRequired)
			return
		}
		if action == "" {
			next(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.record(r, action, rec.status)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
