package models

import "strings"

// Method is an HTTP verb of a queued or executed operation.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
)

var knownMethods = map[Method]bool{
	MethodGet:     true,
	MethodHead:    true,
	MethodOptions: true,
	MethodPost:    true,
	MethodPut:     true,
	MethodPatch:   true,
	MethodDelete:  true,
}

// ParseMethod normalizes a verb to upper case and reports whether it is known.
func ParseMethod(raw string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	return m, knownMethods[m]
}

// Valid reports whether m belongs to the supported verb set.
func (m Method) Valid() bool {
	return knownMethods[m]
}

// Priority is the replay class of a queued operation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities ascending: high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// AuthorizationHeader is never persisted with a queued operation.
const AuthorizationHeader = "Authorization"
