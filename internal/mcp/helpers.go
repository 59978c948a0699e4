package mcpserver

import (
	"encoding/json"
	"fmt"

	"dbconduit/internal/domain"
)

func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func requireString(args map[string]any, key string) (string, error) {
	s := getString(args, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// parseSpecs accepts the "connections" argument either as a JSON array or as
// a string holding one.
func parseSpecs(args map[string]any) ([]domain.ConnectionSpec, error) {
	raw, ok := args["connections"]
	if !ok {
		return nil, fmt.Errorf("connections is required")
	}
	var data []byte
	if s, ok := raw.(string); ok {
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return nil, err
		}
	}
	var specs []domain.ConnectionSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("connections: %w", err)
	}
	return specs, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
