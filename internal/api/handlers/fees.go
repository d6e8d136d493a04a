package handlers

import (
	"net/http"
	"strings"

	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// HandleFeeLookup returns a handler for contracted fee lookups.
// GET /api/v1/fees/lookup?client=&lienholder=&feeType=
//
// lienholder and feeType may be blank; the resolver applies its fallbacks.
func HandleFeeLookup(svc CaseService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		client := strings.TrimSpace(q.Get("client"))
		if client == "" {
			RespondValidationError(w, []FieldError{{Field: "client", Message: "Client name is required"}})
			return
		}

		res, err := svc.LookupFee(r.Context(), sessionIDOf(r), client,
			strings.TrimSpace(q.Get("lienholder")),
			strings.TrimSpace(q.Get("feeType")),
		)
		if err != nil {
			log.WithContext(r.Context()).Debug("fee lookup missed", "client", client, "error", err)
			RespondExtractionError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, res)
	}
}
