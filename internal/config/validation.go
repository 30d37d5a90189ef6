package config

import (
	"fmt"
	"strings"
	"time"

	"karavan/internal/containerizer"
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

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "is required",
		}
	}
	return nil
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

func (ve *ValidationErrors) addIf(err error) {
	if err == nil {
		return
	}
	if v, ok := err.(ValidationError); ok {
		*ve = append(*ve, v)
		return
	}
	ve.Add("", err.Error())
}

func (ve *ValidationErrors) positive(field string, d time.Duration) {
	if d <= 0 {
		ve.Add(field, "must be a positive duration", d.String())
	}
}

// Validate checks the configuration and returns ValidationErrors.
func (c KaravanConfig) Validate() error {
	var errs ValidationErrors

	errs.addIf(ValidateRequired("environment", c.Environment))
	for i, env := range c.Environments {
		errs.addIf(ValidateRequired(fmt.Sprintf("environments[%d]", i), env))
	}

	errs.addIf(ValidateOneOf("runtime.type", strings.ToLower(c.Runtime.Type), []string{
		string(containerizer.RuntimeTypeAuto),
		string(containerizer.RuntimeTypeDocker),
		string(containerizer.RuntimeTypeKubernetes),
	}))

	errs.addIf(ValidateRequired("devmode.image", c.DevMode.Image))
	if c.DevMode.Port <= 0 || c.DevMode.Port > 65535 {
		errs.Add("devmode.port", "must be between 1 and 65535", c.DevMode.Port)
	}

	errs.positive("reconcile.interval", c.Reconcile.Interval)
	errs.positive("reconcile.transitWindow", c.Reconcile.TransitWindow)
	if c.Statistics.Enabled {
		errs.positive("statistics.interval", c.Statistics.Interval)
		errs.positive("statistics.callTimeout", c.Statistics.CallTimeout)
	}
	errs.positive("reload.callTimeout", c.Reload.CallTimeout)
	if c.Reload.UploadRetries < 0 {
		errs.Add("reload.uploadRetries", "must not be negative", c.Reload.UploadRetries)
	}

	b := c.Reload.Breaker
	if b.RequestVolumeThreshold < 0 {
		errs.Add("reload.breaker.requestVolumeThreshold", "must not be negative", b.RequestVolumeThreshold)
	}
	if b.FailureRatio < 0 || b.FailureRatio > 1 {
		errs.Add("reload.breaker.failureRatio", "must be between 0 and 1", b.FailureRatio)
	}
	if b.Delay < 0 {
		errs.Add("reload.breaker.delay", "must not be negative", b.Delay.String())
	}

	errs.addIf(ValidateOneOf("cache.backend", string(c.Cache.Backend), []string{
		string(CacheBackendMemory),
		string(CacheBackendRedis),
	}))
	if c.Cache.Backend == CacheBackendRedis {
		errs.addIf(ValidateRequired("cache.redis.addr", c.Cache.Redis.Addr))
	}

	if c.Projects.Watch {
		errs.addIf(ValidateRequired("projects.root", c.Projects.Root))
	}
	errs.addIf(ValidateRequired("server.address", c.Server.Address))

	if errs.HasErrors() {
		return errs
	}
	return nil
}
