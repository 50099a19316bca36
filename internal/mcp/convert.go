package mcp

import (
	"github.com/goccy/go-json"
)

// toJQValue converts v into the plain maps and slices gojq can walk, through its JSON encoding.
func toJQValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var x any
	if err := json.Unmarshal(b, &x); err != nil {
		return nil, err
	}
	return x, nil
}
