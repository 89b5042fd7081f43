package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a recorded session error
type ErrorKind string

const (
	KindNavigationTimeout           ErrorKind = "navigation_timeout"
	KindFieldResolutionExhausted    ErrorKind = "field_resolution_exhausted"
	KindContainerDiscoveryExhausted ErrorKind = "container_discovery_exhausted"
	KindContainerFailed             ErrorKind = "container_failed"
	KindDetailFetchFailed           ErrorKind = "detail_fetch_failed"
	KindCategoryFatal               ErrorKind = "category_fatal"
	KindConfiguration               ErrorKind = "configuration"
)

var (
	ErrNavigationTimeout           = errors.New("navigation timed out")
	ErrContainerDiscoveryExhausted = errors.New("no container strategy matched")
	ErrDetailFetchFailed           = errors.New("detail fetch failed")
	ErrCategoryFatal               = errors.New("category listing failed")
	ErrNoCategories                = errors.New("no categories configured")
)

// SessionError is a non-fatal failure recorded during a run
type SessionError struct {
	Scope   string    `json:"scope"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e SessionError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Scope, e.Kind, e.Message)
}

// KindOf maps an error onto the session error taxonomy
func KindOf(err error, fallback ErrorKind) ErrorKind {
	switch {
	case errors.Is(err, ErrNavigationTimeout):
		return KindNavigationTimeout
	case errors.Is(err, ErrContainerDiscoveryExhausted):
		return KindContainerDiscoveryExhausted
	case errors.Is(err, ErrDetailFetchFailed):
		return KindDetailFetchFailed
	case errors.Is(err, ErrCategoryFatal):
		return KindCategoryFatal
	case errors.Is(err, ErrNoCategories):
		return KindConfiguration
	}
	return fallback
}
