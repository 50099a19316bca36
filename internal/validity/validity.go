// Package validity decides whether a fetched record carries usable telemetry.
//
// The filter is pure: it never mutates its input and applying it twice gives the same result as applying it once.
package validity

import (
	"fmt"
	"math"
	"strings"

	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/logger"
	"go.uber.org/zap"
)

// EssentialMeasurements are the measurement names that make a record worth serving.
var EssentialMeasurements = []string{
	"availability",
	"response_time",
	"error_rate",
	"throughput",
}

// failureMarkers are status strings the upstream uses instead of an error code.
var failureMarkers = []string{
	"no data",
	"invalid query",
	"not found",
}

// Reason is why a record was rejected.
type Reason string

const (
	Accepted          Reason = ""
	MissingIdentity   Reason = "missing_identity"
	FailureMarker     Reason = "failure_marker"
	NoWindows         Reason = "no_windows"
	MalformedWindow   Reason = "malformed_window"
	NoEssentialValues Reason = "no_essential_values"
	Unexpected        Reason = "unexpected_shape"
)

// Check reports whether r is valid, and the reason if it is not.
func Check(r entity.Record) (ok bool, reason Reason) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			reason = Unexpected
		}
	}()

	if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Domain) == "" {
		return false, MissingIdentity
	}

	if IsFailureMarker(r.Status) {
		return false, FailureMarker
	}

	if len(r.Windows) == 0 {
		return false, NoWindows
	}

	for label, ms := range r.Windows {
		if strings.TrimSpace(label) == "" || ms == nil {
			return false, MalformedWindow
		}
	}

	for _, ms := range r.Windows {
		for _, name := range EssentialMeasurements {
			if v, ok := ms[name]; ok && IsPresent(v) {
				return true, Accepted
			}
		}
	}

	return false, NoEssentialValues
}

// IsValid reports whether r passes the filter.
func IsValid(r entity.Record) bool {
	ok, _ := Check(r)
	return ok
}

// IsFailureMarker reports whether s is one of the upstream's "nothing here" markers.
func IsFailureMarker(s string) bool {
	s = strings.ToLower(s)
	for _, m := range failureMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsPresent reports whether a measurement value carries data.
// Zero is present; nil, NaN, empty values and failure markers are not.
func IsPresent(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case float64:
		return !math.IsNaN(x)
	case float32:
		return !math.IsNaN(float64(x))
	case string:
		return strings.TrimSpace(x) != "" && !IsFailureMarker(x)
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// Filter drops invalid records and traces every drop at debug level.
type Filter struct {
	log *zap.SugaredLogger
}

// New creates a Filter. A nil logger means no trace.
func New(l *zap.SugaredLogger) Filter {
	if l == nil {
		l = logger.Nop()
	}
	return Filter{log: l}
}

// FilterValid returns the valid records in input order, and a summary of what was dropped.
func (f Filter) FilterValid(rs []entity.Record) ([]entity.Record, Summary) {
	s := Summary{Total: len(rs), Rejected: map[Reason]int{}}

	out := make([]entity.Record, 0, len(rs))
	for _, r := range rs {
		ok, reason := Check(r)
		if ok {
			out = append(out, r)
			continue
		}

		s.Rejected[reason]++
		f.log.Debugw("dropped record", "id", r.ID, "domain", r.Domain, "reason", reason)
	}
	s.Valid = len(out)

	return out, s
}

// FilterValid is Filter.FilterValid without tracing.
func FilterValid(rs []entity.Record) []entity.Record {
	out, _ := Filter{log: logger.Nop()}.FilterValid(rs)
	return out
}

// Summary counts the result of one FilterValid call.
type Summary struct {
	Total    int            `json:"total"`
	Valid    int            `json:"valid"`
	Rejected map[Reason]int `json:"rejected,omitempty"`
}

// Dropped returns the number of rejected records.
func (s Summary) Dropped() int {
	return s.Total - s.Valid
}

// Quality returns the percentage of valid records. An empty input has quality 0.
func (s Summary) Quality() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Valid) / float64(s.Total) * 100
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d valid (%.1f%%)", s.Valid, s.Total, s.Quality())
}
