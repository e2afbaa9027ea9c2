package core

import (
	"errors"
	"fmt"
	"strings"
)

type CredentialReason string

const (
	MissingCredential  CredentialReason = "missing_credential"
	BrowserUnavailable CredentialReason = "browser_unavailable"
)

// CredentialError reports that no authentication artifact could be resolved.
type CredentialError struct {
	Service ServiceKind
	Reason  CredentialReason
	Detail  string
	Err     error
}

func (e *CredentialError) Error() string {
	var msg string
	switch e.Reason {
	case BrowserUnavailable:
		msg = "browser cookie store unavailable"
	default:
		msg = "no credential configured"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialError) Unwrap() error { return e.Err }

// UpstreamError covers transport failures and non-2xx responses.
type UpstreamError struct {
	StatusCode  int
	RateLimited bool
	Message     string
	Err         error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.RateLimited:
		return "rate limited (HTTP 429)"
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	case e.Err != nil:
		return "connection failed: " + e.Err.Error()
	default:
		return "upstream request failed"
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ParseError reports an unexpected upstream response shape.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.What == "" {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("parse error (%s): %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FieldError is one rejected configuration field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a configuration push; the prior config stays active.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// StoreError reports a history persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("history %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
