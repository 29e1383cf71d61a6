package config

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules. Every failure is
// reported as a ConfigurationError naming the first offending field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{Field: fieldPath(fe.Namespace()), Reason: "failed '" + fe.Tag() + "' check", Err: err}
		}
		return &ConfigurationError{Reason: "invalid configuration", Err: err}
	}
	if c.Ollama.Disabled && c.HuggingFace.Disabled {
		return ErrConfiguration("providers", "ollama and huggingface are both disabled")
	}
	if !c.HuggingFace.Disabled && c.HuggingFace.RequireToken && strings.TrimSpace(c.HuggingFace.Token) == "" {
		return ErrConfiguration("huggingface.token", "token required but not set (HF_TOKEN)")
	}
	seen := make(map[string]struct{}, len(c.Catalog.Models))
	for _, m := range c.Catalog.Models {
		id := m.ID
		if id == "" {
			id = m.Ref
		}
		if !strings.HasPrefix(id, m.Provider+"/") {
			id = m.Provider + "/" + id
		}
		if _, dup := seen[id]; dup {
			return ErrConfiguration("catalog.models", "duplicate model id "+id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
