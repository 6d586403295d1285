package controller

import (
	"errors"
	"fmt"
	"strings"
)

// PipelineBuildError is returned by Start when the pipeline could not be
// built. The controller stays idle.
type PipelineBuildError struct {
	Step string
	Err  error
}

func (e *PipelineBuildError) Error() string {
	return fmt.Sprintf("failed to build pipeline (%s): %v", e.Step, e.Err)
}

func (e *PipelineBuildError) Unwrap() error { return e.Err }

// ErrorCategory groups runtime errors by cause.
type ErrorCategory int

const (
	ErrCategoryUnknown ErrorCategory = iota
	ErrCategoryAuth
	ErrCategoryCodec
	ErrCategoryNetwork
	ErrCategoryResource
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// RuntimeError is an error reported on the bus of a running pipeline. It is
// never retried; the pipeline goes idle.
type RuntimeError struct {
	Source   string
	Category ErrorCategory
	Debug    string
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NewRuntimeError builds a RuntimeError from the fields of a bus error
// message.
func NewRuntimeError(source, message, debug string) *RuntimeError {
	if message == "" {
		message = "unspecified error"
	}
	return &RuntimeError{
		Source:   source,
		Category: ClassifyError(message, debug),
		Debug:    debug,
		Err:      errors.New(message),
	}
}

// ClassifyError guesses the category from the error text and debug detail.
// The most specific category wins.
func ClassifyError(errMsg, debug string) ErrorCategory {
	combined := strings.ToLower(errMsg + " " + debug)
	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	default:
		return ErrCategoryUnknown
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication", "credentials",
	}
	codecKeywords = []string{
		"codec", "decode", "decoder", "not-negotiated", "not negotiated", "caps", "format",
		"vp8", "h264", "opus",
	}
	networkKeywords = []string{
		"connection", "network", "timeout", "ice", "dtls", "websocket", "refused", "unreachable",
		"dial", "eof", "reset by peer",
	}
	resourceKeywords = []string{
		"no such file", "not found", "permission", "device", "resource", "busy",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
