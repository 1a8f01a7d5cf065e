package config

import (
	"fmt"
	"net/url"
	"strings"

	"tsapi/pkg/tsapi"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateAbsoluteURL checks that value parses as an absolute http(s) URL.
func ValidateAbsoluteURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be an absolute http(s) URL",
		}
	}
	return nil
}

// Validate checks the whole configuration and reports every problem found.
func (c Config) Validate() error {
	var errs ValidationErrors
	add := func(err error) {
		if ve, ok := err.(ValidationError); ok {
			errs = append(errs, ve)
		}
	}

	if _, err := tsapi.ParseTradingMode(c.TradingMode); err != nil {
		errs.Add("tradingMode", "must be paper or live", c.TradingMode)
	}

	add(ValidateOneOf("credentials.source", c.Credentials.Source,
		[]string{CredentialSourceFile, CredentialSourceEnv}))

	add(ValidateOneOf("tokenStore.backend", c.TokenStore.Backend,
		[]string{TokenBackendFile, TokenBackendPostgres, TokenBackendMemory}))
	if c.TokenStore.Backend == TokenBackendPostgres && strings.TrimSpace(c.TokenStore.DSN) == "" {
		errs.Add("tokenStore.dsn", "is required for the postgres backend")
	}

	add(ValidateAbsoluteURL("auth.authUrl", c.Auth.AuthURL))
	add(ValidateAbsoluteURL("auth.tokenUrl", c.Auth.TokenURL))
	if len(c.Auth.Scopes) == 0 {
		errs.Add("auth.scopes", "must list at least one scope")
	}
	if c.Auth.SafetyMargin < 0 {
		errs.Add("auth.safetyMargin", "must not be negative", c.Auth.SafetyMargin)
	}
	if c.Auth.RefreshTimeout < 0 {
		errs.Add("auth.refreshTimeout", "must not be negative", c.Auth.RefreshTimeout)
	}

	if c.Dispatch.BaseURL != "" {
		add(ValidateAbsoluteURL("dispatch.baseUrl", c.Dispatch.BaseURL))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs.Add("dispatch.maxAttempts", "must be at least 1", c.Dispatch.MaxAttempts)
	}
	if c.Dispatch.Timeout <= 0 {
		errs.Add("dispatch.timeout", "must be positive", c.Dispatch.Timeout)
	}
	if c.Dispatch.BackoffMin < 0 || c.Dispatch.BackoffMax < c.Dispatch.BackoffMin {
		errs.Add("dispatch.backoffMax", "must not be smaller than backoffMin", c.Dispatch.BackoffMax)
	}
	if c.Dispatch.Concurrency < 1 {
		errs.Add("dispatch.concurrency", "must be at least 1", c.Dispatch.Concurrency)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
