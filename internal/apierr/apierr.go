// Package apierr maps transport failures onto the closed error taxonomy
// surfaced to callers of the client.
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"resilient/internal/transport"
)

// Code identifies a taxonomy member.
type Code string

const (
	CodeNetworkError          Code = "NETWORK_ERROR"
	CodeTimeout               Code = "TIMEOUT"
	CodeRateLimited           Code = "RATE_LIMIT"
	CodeServerError           Code = "SERVER_ERROR"
	CodeServiceUnavailable    Code = "SERVICE_UNAVAILABLE"
	CodeBadRequest            Code = "BAD_REQUEST"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeNotFound              Code = "NOT_FOUND"
	CodeHTTP                  Code = "HTTP_ERROR"
	CodeQueuedOffline         Code = "OFFLINE_QUEUED"
	CodeQueueCapacityExceeded Code = "QUEUE_CAPACITY_EXCEEDED"
)

// Sentinels for errors.Is; comparison is by code.
var (
	ErrNetwork            = &Error{Code: CodeNetworkError}
	ErrTimeout            = &Error{Code: CodeTimeout}
	ErrRateLimited        = &Error{Code: CodeRateLimited}
	ErrServer             = &Error{Code: CodeServerError}
	ErrServiceUnavailable = &Error{Code: CodeServiceUnavailable}
	ErrBadRequest         = &Error{Code: CodeBadRequest}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrForbidden          = &Error{Code: CodeForbidden}
	ErrNotFound           = &Error{Code: CodeNotFound}
)

var userMessages = map[Code]string{
	CodeNetworkError:          "Network error. Please check your internet connection.",
	CodeTimeout:               "Request timeout. Please try again.",
	CodeRateLimited:           "Too many requests. Please wait a moment and try again.",
	CodeServerError:           "Server error. We're working on it.",
	CodeServiceUnavailable:    "Service temporarily unavailable. Please try again.",
	CodeBadRequest:            "Invalid request. Please check your input.",
	CodeUnauthorized:          "Session expired. Please log in again.",
	CodeForbidden:             "You don't have permission to perform this action.",
	CodeNotFound:              "The requested resource was not found.",
	CodeQueuedOffline:         "You are currently offline. Your request has been saved and will be sent when you reconnect.",
	CodeQueueCapacityExceeded: "Offline queue is full; the oldest low priority request was discarded.",
}

// UserMessage returns the human message for a code.
func UserMessage(code Code) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return "An unexpected error occurred. Please try again."
}

// Retryable reports whether the taxonomy treats the code as transient.
func Retryable(code Code) bool {
	switch code {
	case CodeNetworkError, CodeTimeout, CodeRateLimited, CodeServerError, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// Error is a terminal failure returned to callers.
type Error struct {
	Code        Code
	Message     string
	UserMessage string
	StatusCode  int
	Retryable   bool
	Attempts    int
	Err         error
	Timestamp   time.Time
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Classify converts any failure into a taxonomy error. Already classified
// errors are returned as is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) && statusErr.Response != nil {
		return fromStatus(statusErr, err)
	}

	code := CodeNetworkError
	if isTimeout(err) {
		code = CodeTimeout
	}
	return newError(code, 0, err.Error(), UserMessage(code), err)
}

func fromStatus(statusErr *transport.StatusError, cause error) *Error {
	status := statusErr.StatusCode()
	code := codeForStatus(status)
	userMsg := UserMessage(code)

	switch code {
	case CodeBadRequest:
		if msg := serverMessage(statusErr.Response.Body); msg != "" {
			userMsg = msg
		}
	case CodeHTTP:
		userMsg = fmt.Sprintf("Error %d", status)
		if msg := serverMessage(statusErr.Response.Body); msg != "" {
			userMsg = msg
		}
	}
	return newError(code, status, cause.Error(), userMsg, cause)
}

func codeForStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusRequestTimeout:
		return CodeTimeout
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusInternalServerError:
		return CodeServerError
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return CodeServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		return CodeServerError
	}
	return CodeHTTP
}

func newError(code Code, status int, msg, userMsg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		UserMessage: userMsg,
		StatusCode:  status,
		Retryable:   Retryable(code),
		Err:         cause,
		Timestamp:   time.Now(),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// HTTPStatus picks the status a relay should answer with for e.
func (e *Error) HTTPStatus() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	if e.Code == CodeTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
