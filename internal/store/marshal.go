package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/pvm/internal/ir"
)

// marshalValues converts context values to canonical JSON TEXT for storage.
func marshalValues(values map[string]string) (string, error) {
	if values == nil {
		values = map[string]string{}
	}
	data, err := ir.MarshalCanonical(values)
	if err != nil {
		return "", fmt.Errorf("marshal context values: %w", err)
	}
	return string(data), nil
}

func unmarshalValues(data string) (map[string]string, error) {
	values := map[string]string{}
	if data == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshal context values: %w", err)
	}
	return values, nil
}

// marshalProps stores a property schema as {"key": required}.
func marshalProps(props map[string]bool) (string, error) {
	obj := make(map[string]any, len(props))
	for k, req := range props {
		obj[k] = req
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal props: %w", err)
	}
	return string(data), nil
}
