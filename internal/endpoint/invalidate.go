package endpoint

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/macrat/telecache/internal/invalidate"
)

var errCriterion = errors.New("exactly one of record, domain, or alert is required")

func parseCriterion(r *http.Request) (invalidate.Criterion, error) {
	q := r.URL.Query()

	var found []invalidate.Kind
	for _, k := range []invalidate.Kind{invalidate.ByRecordKind, invalidate.ByDomainKind, invalidate.ByAlertKind} {
		if q.Has(string(k)) {
			found = append(found, k)
		}
	}
	if len(found) != 1 {
		return invalidate.Criterion{}, errCriterion
	}

	return invalidate.ParseCriterion(string(found[0]), q.Get(string(found[0])))
}

// invalidateError is the response of a failed invalidation. Report tells what was done before the failure.
type invalidateError struct {
	errorResponse
	Report invalidate.Report `json:"report"`
}

func (h handler) invalidate(w http.ResponseWriter, r *http.Request) {
	c, err := parseCriterion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_criterion", err.Error())
		return
	}

	var opts invalidate.Options
	if s := r.URL.Query().Get("refresh"); s != "" {
		opts.Refresh, err = strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_refresh", err.Error())
			return
		}
	}

	report, err := h.b.Invalidate(r.Context(), c, opts)
	if err != nil {
		h.log.Warnw("invalidation failed", "criterion", c, "error", err)

		h.handleError("invalidate", writeJSON(w, http.StatusBadGateway, invalidateError{
			errorResponse: errorResponse{Error: "invalidation_failed", Message: err.Error()},
			Report:        report,
		}))
		return
	}

	h.handleError("invalidate", writeJSON(w, http.StatusOK, report))
}
