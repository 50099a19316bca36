package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/syncerr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// EntitiesInput is the input for query_entities tool.
type EntitiesInput struct {
	Tier   string `json:"tier,omitempty" jsonschema:"The cache tier to read: 'fast', 'standard', or 'long'. If omitted, the first served tier is used."`
	Domain string `json:"domain,omitempty" jsonschema:"Return only entities of this domain, such as 'APM', 'BROWSER', or 'INFRA'. Case insensitive. If omitted, every domain is returned."`
	JQ     string `json:"jq,omitempty" jsonschema:"A jq query string to filter and/or aggregate entities. Query receives an array. Each object is like '{\"id\": \"...\", \"name\": \"...\", \"domain\": \"APM\", \"reporting\": true, \"stale\": false, \"windows\": {\"last 30 minutes\": {\"availability\": 99.9, \"response_time\": 120, ...}, ...}}'. You can use 'window(label)' filter to get the measurements of a window, and 'measure(name)' filter to get one measurement of every window like '{\"last 30 minutes\": 99.9, ...}'. For example, 'map(select(window(\"last 30 minutes\").availability < 99)) | map({id, name})' to get entities with low availability."`
}

// EntitiesOutput is the result of query_entities tool.
type EntitiesOutput struct {
	Tier      string `json:"tier" jsonschema:"The tier that was read."`
	Timestamp string `json:"timestamp" jsonschema:"When the snapshot was committed, in RFC3339 format."`
	Fresh     bool   `json:"fresh" jsonschema:"Whether the snapshot is younger than the tier threshold."`
	Result    any    `json:"result" jsonschema:"The result of the query."`
}

func pickTier(s Source, name string) (cache.Tier, error) {
	tiers := s.Tiers()
	if name == "" {
		if len(tiers) == 0 {
			return "", errors.New("no tier is served")
		}
		return tiers[0], nil
	}

	for _, t := range tiers {
		if string(t) == strings.ToLower(name) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier: %q", name)
}

// FetchEntitiesByJQ reads a snapshot and applies jq query on its records.
func FetchEntitiesByJQ(ctx context.Context, s Source, input EntitiesInput) (EntitiesOutput, error) {
	tier, err := pickTier(s, input.Tier)
	if err != nil {
		return EntitiesOutput{}, err
	}

	jq, err := ParseJQ(input.JQ)
	if err != nil {
		return EntitiesOutput{}, fmt.Errorf("failed to parse jq query: %w", err)
	}

	snap, fresh, err := s.Get(tier, false)
	if errors.Is(err, syncerr.ErrUninitialized) {
		return EntitiesOutput{}, fmt.Errorf("tier %s has no data yet", tier)
	} else if err != nil {
		return EntitiesOutput{}, err
	}

	var records []entity.Record
	for _, r := range snap.Records() {
		if input.Domain == "" || strings.EqualFold(r.Domain, input.Domain) {
			records = append(records, r)
		}
	}
	if records == nil {
		records = []entity.Record{}
	}

	v, err := toJQValue(records)
	if err != nil {
		return EntitiesOutput{}, err
	}

	out, err := jq.Run(ctx, v)
	if err != nil {
		return EntitiesOutput{}, err
	}

	return EntitiesOutput{
		Tier:      string(tier),
		Timestamp: snap.Timestamp.Format(time.RFC3339),
		Fresh:     fresh,
		Result:    out.Result,
	}, nil
}

// HealthInput is the input for query_health tool.
type HealthInput struct {
	JQ string `json:"jq,omitempty" jsonschema:"A jq query string to filter the diagnostics. Query receives an object like '{\"healthy\": true, \"governor\": {\"state\": \"CLOSED\", \"consecutive_failures\": 0, \"retry_in\": 0, ...}, \"tiers\": [{\"tier\": \"standard\", \"fresh\": true, \"records\": 42, \"domains\": {\"APM\": 40, ...}, \"quality\": 95.0, \"hit_rate\": 0.9, \"last_sync\": {...}}, ...]}'. Durations are in nanoseconds. For example, '.tiers[] | {tier, fresh, quality}'."`
}

// FetchHealthByJQ applies jq query on the diagnostics.
func FetchHealthByJQ(ctx context.Context, s Source, input HealthInput) (Output, error) {
	jq, err := ParseJQ(input.JQ)
	if err != nil {
		return Output{}, fmt.Errorf("failed to parse jq query: %w", err)
	}

	v, err := toJQValue(s.Diagnostics())
	if err != nil {
		return Output{}, err
	}

	return jq.Run(ctx, v)
}

// AddReadOnlyTools adds the read-only query tools to the MCP server.
// These tools are: query_entities, query_health.
func AddReadOnlyTools(server *mcp.Server, s Source) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_entities",
		Title:       "Query entities",
		Description: "Fetch the cached telemetry entities of a tier. The result can be large, so please filter by domain and aggregate in jq query.",
		Annotations: &mcp.ToolAnnotations{
			IdempotentHint: true,
			ReadOnlyHint:   true,
		},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input EntitiesInput) (*mcp.CallToolResult, EntitiesOutput, error) {
		output, err := FetchEntitiesByJQ(ctx, s, input)
		return nil, output, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_health",
		Title:       "Query health",
		Description: "Fetch the health of the cache: circuit breaker state of the upstream API, freshness, hit rate, and data quality of each tier.",
		Annotations: &mcp.ToolAnnotations{
			IdempotentHint: true,
			ReadOnlyHint:   true,
		},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input HealthInput) (*mcp.CallToolResult, Output, error) {
		output, err := FetchHealthByJQ(ctx, s, input)
		return nil, output, err
	})
}
