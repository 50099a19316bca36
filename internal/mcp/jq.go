package mcp

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/macrat/telecache/internal/validity"
)

// MaxResults is the number of values a query may emit before it is stopped.
var MaxResults = 10000

// jqWindow implements window(label): the measurements of a record in one time window, or null.
func jqWindow(x any, args []any) any {
	windows, err := recordWindows("window/1", x)
	if err != nil {
		return err
	}
	label, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("window/1: expected a window label but got %T (%v)", args[0], args[0])
	}
	return windows[label]
}

// jqMeasure implements measure(name): an object from window label to the value of one measurement.
// Windows where the measurement is absent, null, or a failure marker are left out.
func jqMeasure(x any, args []any) any {
	windows, err := recordWindows("measure/1", x)
	if err != nil {
		return err
	}
	name, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("measure/1: expected a measurement name but got %T (%v)", args[0], args[0])
	}

	out := map[string]any{}
	for label, ms := range windows {
		m, ok := ms.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := m[name]; ok && validity.IsPresent(v) {
			out[label] = v
		}
	}
	return out
}

func recordWindows(fn string, x any) (map[string]any, error) {
	rec, ok := x.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a record but got %T (%v)", fn, x, x)
	}
	windows, _ := rec["windows"].(map[string]any)
	return windows, nil
}

// JQQuery is a compiled jq query over telecache documents.
type JQQuery struct {
	Code *gojq.Code
}

// ParseJQ compiles a query. An empty query is the identity.
func ParseJQ(query string) (JQQuery, error) {
	if query == "" {
		query = "."
	}

	q, err := gojq.Parse(query)
	if err != nil {
		return JQQuery{}, err
	}

	c, err := gojq.Compile(
		q,
		gojq.WithFunction("window", 1, 1, jqWindow),
		gojq.WithFunction("measure", 1, 1, jqMeasure),
	)
	if err != nil {
		return JQQuery{}, err
	}

	return JQQuery{Code: c}, nil
}

// Output is the result of a query tool.
type Output struct {
	Result any `json:"result" jsonschema:"The result of the query."`
}

// Run runs the query on input.
//
// A single value is returned as is and several values as an array.
// halt_error with a non-zero code is reported as a value rather than as an error, so the agent can read it.
func (q JQQuery) Run(ctx context.Context, input any) (Output, error) {
	var results []any

	iter := q.Code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}

		switch x := v.(type) {
		case *gojq.HaltError:
			if x.ExitCode() != 0 {
				results = append(results, map[string]any{
					"status":    "halt_error",
					"exit_code": x.ExitCode(),
					"value":     x.Value(),
				})
			}
			return wrap(results), nil
		case error:
			return Output{}, x
		}

		if len(results) >= MaxResults {
			return Output{}, fmt.Errorf("query emitted more than %d values; aggregate the result, or wrap the query in [...] to get one array", MaxResults)
		}
		results = append(results, v)
	}

	return wrap(results), nil
}

func wrap(results []any) Output {
	if len(results) == 1 {
		return Output{Result: results[0]}
	}
	return Output{Result: results}
}
