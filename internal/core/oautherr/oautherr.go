// Package oautherr maps every error kind named in spec §7 to the wire
// shape every handler renders it with: an `{error, error_description}`
// JSON body and an HTTP status code, so no handler hand-rolls its own
// error envelope.
//
// Grounded on the teacher's error-shape convention (shared/middleware's
// plain errors.New/fmt.Errorf, surfaced at the handler boundary via
// httpx.ErrorCtx), generalized here from a single "something went wrong"
// shape to the classified OAuth2/OIDC error vocabulary the core
// components already return as `"<code>: <description>"`-prefixed errors
// or typed *authorize.Error / *token.Error values.
package oautherr

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/core/authorize"
	"github.com/nordauth/oidcore/internal/core/token"
)

// Body is the RFC 6749 §5.2 error envelope every failing endpoint
// renders, redirect-based authorization errors aside (those carry the
// same fields as query parameters instead, via authorize.Error.RedirectURL).
type Body struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// statusByCode is the §7 error-kind-to-status table. Codes not listed
// here fall back to 400 in StatusCode; an error whose message carries no
// listed prefix is classified as server_error by Classify and so renders
// as 500.
var statusByCode = map[string]int{
	"invalid_request":          http.StatusBadRequest,
	"invalid_request_object":   http.StatusBadRequest,
	"invalid_client":           http.StatusUnauthorized,
	"invalid_grant":            http.StatusBadRequest,
	"unsupported_grant_type":   http.StatusBadRequest,
	"unsupported_response_type": http.StatusBadRequest,
	"invalid_scope":            http.StatusBadRequest,
	"invalid_client_metadata":  http.StatusBadRequest,
	"invalid_token":            http.StatusUnauthorized,
	"invalid_dpop_proof":       http.StatusUnauthorized,
	"login_required":           http.StatusBadRequest,
	"consent_required":         http.StatusBadRequest,
	"server_error":             http.StatusInternalServerError,
}

// wwwAuthenticateCodes names the kinds that must carry a WWW-Authenticate
// header alongside the JSON body, per spec §7.
var wwwAuthenticateCodes = map[string]bool{
	"invalid_token":      true,
	"invalid_dpop_proof": true,
	"invalid_client":     true,
}

// Classify extracts an OAuth2 error code and description from err,
// recognizing the core components' own error shapes without requiring
// every call site to type-switch itself.
func Classify(err error) (code, description string) {
	if err == nil {
		return "server_error", "unknown error"
	}
	switch e := err.(type) {
	case *authorize.Error:
		return e.Code, e.Description
	case *token.Error:
		return e.Code, e.Description
	}

	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx > 0 {
		candidate := msg[:idx]
		if _, known := statusByCode[candidate]; known {
			return candidate, msg[idx+2:]
		}
	}
	return "server_error", msg
}

// StatusCode reports the HTTP status a classified code renders as.
func StatusCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusBadRequest
}

// Write renders err as the standard JSON error envelope on w, classifying
// err with Classify and picking the status from StatusCode. Server errors never leak their underlying detail,
// per spec §7's "no detail surfaced" rule.
func Write(ctx context.Context, w http.ResponseWriter, err error) {
	code, description := Classify(err)
	status := StatusCode(code)

	if code == "server_error" {
		logx.WithContext(ctx).Errorf("oautherr: server_error: %v", err)
		description = ""
	}
	if wwwAuthenticateCodes[code] {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer error=%q", code))
	}

	httpx.WriteJsonCtx(ctx, w, status, Body{Error: code, ErrorDescription: description})
}
