package source

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"dbconduit/internal/domain"
)

// EnvSource reads a JSON array of specs from an environment variable.
// Save rewrites the variable, so changes last only for this process.
type EnvSource struct {
	variable string
}

func NewEnvSource(variable string) *EnvSource {
	return &EnvSource{variable: variable}
}

// Name is the variable name.
func (e *EnvSource) Name() string { return e.variable }

func (e *EnvSource) Load() ([]domain.ConnectionSpec, error) {
	raw := strings.TrimSpace(os.Getenv(e.variable))
	if raw == "" {
		return nil, nil
	}
	var specs []domain.ConnectionSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", e.variable, err)
	}
	return specs, nil
}

func (e *EnvSource) Save(specs []domain.ConnectionSpec, op SaveOp) error {
	if op != SaveAdd && op != SaveDelete {
		return fmt.Errorf("unknown save op %q", op)
	}
	current, err := e.Load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(apply(current, specs, op))
	if err != nil {
		return fmt.Errorf("encode specs: %w", err)
	}
	return os.Setenv(e.variable, string(data))
}
