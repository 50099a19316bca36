package invalidate

import (
	"fmt"
	"strings"

	"github.com/macrat/telecache/internal/entity"
)

// Kind is what a Criterion matches on.
type Kind string

const (
	ByRecordKind Kind = "record"
	ByDomainKind Kind = "domain"
	ByAlertKind  Kind = "alert"
)

// Criterion selects the records to invalidate.
type Criterion struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

func ByRecord(id string) Criterion {
	return Criterion{Kind: ByRecordKind, Value: id}
}

func ByDomain(domain string) Criterion {
	return Criterion{Kind: ByDomainKind, Value: domain}
}

func ByAlert(alertID string) Criterion {
	return Criterion{Kind: ByAlertKind, Value: alertID}
}

// ParseCriterion makes a Criterion from a kind name and a value.
func ParseCriterion(kind, value string) (Criterion, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Criterion{}, fmt.Errorf("invalidation %s must not be empty", kind)
	}

	switch Kind(strings.ToLower(kind)) {
	case ByRecordKind:
		return ByRecord(value), nil
	case ByDomainKind:
		return ByDomain(value), nil
	case ByAlertKind:
		return ByAlert(value), nil
	default:
		return Criterion{}, fmt.Errorf("unsupported invalidation kind: %q", kind)
	}
}

func (c Criterion) String() string {
	return string(c.Kind) + "=" + c.Value
}

// Match reports whether r is selected. Alert criteria never match directly; they are resolved to a record first.
func (c Criterion) Match(r entity.Record) bool {
	switch c.Kind {
	case ByRecordKind:
		return r.ID == c.Value
	case ByDomainKind:
		return strings.EqualFold(r.Domain, c.Value)
	default:
		return false
	}
}
