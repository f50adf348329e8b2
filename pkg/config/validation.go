package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/ccsd/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg for structural errors (struct tags) and for rules
// that span several fields. It does not normalize values.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled {
		if cfg.Telemetry.Profiling.Endpoint == "" {
			return errors.New("telemetry.profiling.endpoint is required when profiling is enabled")
		}
		if _, err := telemetry.ParseProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling.profile_types: %w", err)
		}
	}

	seen := make(map[string]bool, len(cfg.Kerberos.Imports))
	defaults := 0
	for _, imp := range cfg.Kerberos.Imports {
		if seen[imp.Name] {
			return fmt.Errorf("kerberos.imports: duplicate cache name %q", imp.Name)
		}
		seen[imp.Name] = true
		if imp.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("kerberos.imports: at most one import can be the default")
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s=%s' (value %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s'", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
