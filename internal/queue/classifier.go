package queue

import (
	"strings"

	"resilient/internal/models"
)

// Classifier assigns the replay priority of an operation at enqueue time.
type Classifier func(method models.Method, target string) models.Priority

// DefaultClassifier marks auth and emergency writes high, plain CRUD verbs
// normal and everything else low.
func DefaultClassifier(method models.Method, target string) models.Priority {
	if method == models.MethodPost && (strings.Contains(target, "/auth/") || strings.Contains(target, "/emergency")) {
		return models.PriorityHigh
	}
	switch method {
	case models.MethodGet, models.MethodPost, models.MethodPut, models.MethodDelete:
		return models.PriorityNormal
	default:
		return models.PriorityLow
	}
}

// PatternClassifier overrides DefaultClassifier using target substrings.
// High patterns are checked first.
type PatternClassifier struct {
	High []string
	Low  []string
}

func (p PatternClassifier) Classify(method models.Method, target string) models.Priority {
	for _, pattern := range p.High {
		if pattern != "" && strings.Contains(target, pattern) {
			return models.PriorityHigh
		}
	}
	for _, pattern := range p.Low {
		if pattern != "" && strings.Contains(target, pattern) {
			return models.PriorityLow
		}
	}
	return DefaultClassifier(method, target)
}
