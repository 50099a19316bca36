package entity_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/macrat/telecache/internal/entity"
)

func TestRecord_Clone(t *testing.T) {
	orig := entity.Record{
		ID:     "e1",
		Name:   "checkout",
		Domain: "APM",
		Windows: map[string]entity.Measurements{
			"last 30 minutes": {
				"availability": 99.5,
				"top_errors":   []any{"timeout", map[string]any{"code": 500.0}},
			},
		},
		AlertIDs: []string{"a1"},
	}

	c := orig.Clone()
	if diff := cmp.Diff(orig, c); diff != "" {
		t.Fatalf("clone differs from original\n%s", diff)
	}

	c.Windows["last 30 minutes"]["availability"] = 1.0
	c.Windows["last 30 minutes"]["top_errors"].([]any)[0] = "changed"
	c.AlertIDs[0] = "a2"

	if v := orig.Windows["last 30 minutes"]["availability"]; v != 99.5 {
		t.Errorf("original measurement was modified: %v", v)
	}
	if v := orig.Windows["last 30 minutes"]["top_errors"].([]any)[0]; v != "timeout" {
		t.Errorf("original list was modified: %v", v)
	}
	if orig.AlertIDs[0] != "a1" {
		t.Errorf("original alert ids were modified: %v", orig.AlertIDs)
	}
}

func TestGroupByDomain(t *testing.T) {
	rs := []entity.Record{
		{ID: "c", Domain: "APM"},
		{ID: "a", Domain: "INFRA"},
		{ID: "b", Domain: "APM"},
	}

	got := entity.GroupByDomain(rs)
	want := map[string][]entity.Record{
		"APM":   {{ID: "b", Domain: "APM"}, {ID: "c", Domain: "APM"}},
		"INFRA": {{ID: "a", Domain: "INFRA"}},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected groups\n%s", diff)
	}
}

func TestMeasurements_Number(t *testing.T) {
	ms := entity.Measurements{"zero": 0.0, "list": []any{1.0}, "nil": nil}

	if v, ok := ms.Number("zero"); !ok || v != 0 {
		t.Errorf("zero should be a number: %v %v", v, ok)
	}
	if _, ok := ms.Number("list"); ok {
		t.Errorf("list should not be a number")
	}
	if _, ok := ms.Number("nil"); ok {
		t.Errorf("nil should not be a number")
	}
	if _, ok := ms.Number("missing"); ok {
		t.Errorf("missing should not be a number")
	}
}
