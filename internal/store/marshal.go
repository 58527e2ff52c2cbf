package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// marshalSection converts section data to canonical JSON TEXT for storage.
func marshalSection(d section.Data) (string, error) {
	if d == nil {
		d = section.Data{}
	}
	data, err := section.MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("marshal section: %w", err)
	}
	return string(data), nil
}

func unmarshalSection(s string) (section.Data, error) {
	d, err := section.Decode([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("unmarshal section: %w", err)
	}
	return d, nil
}

func marshalParams(p task.Params) (string, error) {
	obj := make(map[string]any, len(p))
	for k, v := range p {
		obj[k] = v
	}
	data, err := section.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

func unmarshalParams(s string) (task.Params, error) {
	var p task.Params
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if p == nil {
		p = task.Params{}
	}
	return p, nil
}

func marshalDetails(details []string) (string, error) {
	items := make([]any, len(details))
	for i, d := range details {
		items[i] = d
	}
	data, err := section.MarshalCanonical(items)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return string(data), nil
}

func unmarshalDetails(s string) ([]string, error) {
	var details []string
	if err := json.Unmarshal([]byte(s), &details); err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	return details, nil
}
