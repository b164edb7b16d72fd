package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// Validate checks everything a pipeline run needs.
func (c Config) Validate() error {
	return convertValidationError(validatorInstance().Struct(c))
}

// watchFields are the namespaces a subscriber depends on.
var watchFields = []string{"Config.Bus.", "Config.Pipeline.Topic"}

// ValidateWatch checks only what a subscriber needs. Failures elsewhere in
// the config are ignored.
func (c Config) ValidateWatch() error {
	err := validatorInstance().Struct(c)
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return convertValidationError(err)
	}
	for _, fe := range ves {
		for _, prefix := range watchFields {
			if strings.HasPrefix(fe.StructNamespace(), prefix) {
				return fmt.Errorf("%s failed validation for tag '%s'", yamlishFieldName(fe), fe.Tag())
			}
		}
	}
	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		ve := ves[0]
		return fmt.Errorf("%s failed validation for tag '%s'", yamlishFieldName(ve), ve.Tag())
	}
	return fmt.Errorf("config: %w", err)
}

// yamlishFieldName drops the root struct name and lowercases the rest, so
// Config.Bus.NATSURL becomes bus.natsurl.
func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = strings.ToLower(part)
	}
	return strings.Join(parts, ".")
}
