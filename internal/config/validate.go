package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	defaultValidator = validator.New()
	defaultEn        = en.New()
	uni              = ut.New(defaultEn, defaultEn)
	trans, _         = uni.GetTranslator(defaultEn.Locale())
)

func init() {
	if err := entranslations.RegisterDefaultTranslations(defaultValidator, trans); err != nil {
		panic(fmt.Sprintf("registering validation translations: %v", err))
	}
}

// Violation is one failed validation rule.
type Violation struct {
	Field       string
	Tag         string
	Description string
}

// ValidationError lists every rule a Config breaks.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid config:")
	for _, v := range e.Violations {
		sb.WriteString("\n  ")
		sb.WriteString(v.Field)
		sb.WriteString(": ")
		sb.WriteString(v.Description)
	}
	return sb.String()
}

// Validate checks cfg after the environment overlay. Missing gateway
// credentials are reported as ErrMissingCredentials before anything else.
func Validate(cfg *Config) error {
	if cfg.Gateway.Type == "supabase" && (cfg.Gateway.URL == "" || cfg.Gateway.ServiceKey == "") {
		return ErrMissingCredentials
	}
	return ValidateLocal(cfg)
}

// ValidateLocal checks cfg without requiring gateway credentials, for
// commands that only read the archive or the run history.
func ValidateLocal(cfg *Config) error {
	if err := defaultValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		out := &ValidationError{}
		for _, e := range verrs {
			out.Violations = append(out.Violations, Violation{
				Field:       strings.TrimPrefix(e.Namespace(), "Config."),
				Tag:         e.Tag(),
				Description: e.Translate(trans),
			})
		}
		return out
	}
	return nil
}
