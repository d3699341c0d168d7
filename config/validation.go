package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// EndpointStdout selects the stdout span exporter
const EndpointStdout = "stdout"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report koanf paths (backend.url) instead of Go field names (Backend.URL)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks struct-level rules and the cross-field constraints that tags
// cannot express. It returns a *ValidationErrors listing every failing field.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	errs = append(errs, validateUpstreams(cfg)...)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateUpstreams rejects URLs that parse but cannot be dialled as HTTP.
func validateUpstreams(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	for field, raw := range map[string]string{
		"backend.url": cfg.Backend.URL,
		"worker.url":  cfg.Worker.URL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			// reported by the url tag
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, NewInvalidFieldError(field, "scheme must be http or https", []string{"http", "https"}))
		}
	}
	return errs
}

func fieldError(fe validator.FieldError) *ConfigError {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "url":
		return NewInvalidFieldError(field, "must be an absolute URL", nil)
	case "gtefield":
		return NewInvalidFieldError(field, "must be greater than or equal to "+fe.Param(), nil)
	default:
		return NewInvalidFieldError(field, fmt.Sprintf("failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value()), nil)
	}
}
