// Package errors provides the structured error type shared by the routing
// layer. Every failure in devbridge degrades to a fallback or a pass-through;
// the Kind of a BridgeError decides which HTTP status the host's error
// handler reports when one reaches it.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind represents different categories of errors.
type Kind string

const (
	KindConfig    Kind = "config"
	KindBuild     Kind = "build"
	KindUpstream  Kind = "upstream"
	KindTransform Kind = "transform"
	KindIO        Kind = "io"
	KindInternal  Kind = "internal"
)

// Common error codes.
const (
	CodeConfigUnresolved = "ERR_CONFIG_UNRESOLVED"
	CodeConfigScrape     = "ERR_CONFIG_SCRAPE"
	CodeBuildFailed      = "ERR_BUILD_FAILED"
	CodeToolUnavailable  = "ERR_TOOL_UNAVAILABLE"
	CodeDevServerStart   = "ERR_DEV_SERVER_START"
	CodeUpstreamStatus   = "ERR_UPSTREAM_STATUS"
	CodeUpstreamFailed   = "ERR_UPSTREAM_FAILED"
	CodeTransformFailed  = "ERR_TRANSFORM_FAILED"
	CodeTemplateRead     = "ERR_TEMPLATE_READ"
	CodeInternal         = "ERR_INTERNAL"
)

// BridgeError is a structured error type with context.
type BridgeError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Path    string
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, "path:"+e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by kind and code.
func (e *BridgeError) Is(target error) bool {
	var t *BridgeError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BridgeError) WithContext(key string, value interface{}) *BridgeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the request or file path the error relates to.
func (e *BridgeError) WithPath(path string) *BridgeError {
	e.Path = path

	return e
}

// NewConfigError creates a configuration resolution error.
func NewConfigError(code, message string, cause error) *BridgeError {
	return &BridgeError{
		Kind:    KindConfig,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *BridgeError {
	return &BridgeError{
		Kind:    KindBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewUpstreamError creates an error for a failed dev server exchange.
func NewUpstreamError(code, message string, cause error) *BridgeError {
	return &BridgeError{
		Kind:    KindUpstream,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewTransformError creates an error for a failed HTML transformation.
func NewTransformError(message string, cause error) *BridgeError {
	return &BridgeError{
		Kind:    KindTransform,
		Code:    CodeTransformFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *BridgeError {
	return &BridgeError{
		Kind:    KindIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *BridgeError {
	return &BridgeError{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}

	return KindInternal
}

// HasCode reports whether err is a BridgeError carrying code.
func HasCode(err error, code string) bool {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code == code
	}

	return false
}

// IsUpstreamError checks if an error came from the dev server.
func IsUpstreamError(err error) bool {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind == KindUpstream
	}

	return false
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind == KindBuild
	}

	return false
}

// StatusCode maps an error to the status a host error handler should report.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}

	if KindOf(err) == KindUpstream {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// Is forwards to the standard library errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As forwards to the standard library errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }
