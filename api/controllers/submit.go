package controllers

import (
	"net/http"

	"github.com/angelmondragon/intake-backend/api/responses"
	"github.com/angelmondragon/intake-backend/api/validators"
	"github.com/angelmondragon/intake-backend/internal/finalization"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

// Submit handles POST /submit. It forwards the intake to the CRM and does not
// mark the draft submitted; callers reconcile through POST /draft.
func Submit(svc finalization.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req types.SubmitRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		itemID, err := svc.Submit(ctx, finalization.Input{
			Payload:          req.Payload,
			Code:             req.Code,
			ExternalRecordID: req.ExternalRecordID,
			Locale:           req.Locale,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, types.SubmitResult{Ack: types.OK(), ItemID: itemID})
	}
}
