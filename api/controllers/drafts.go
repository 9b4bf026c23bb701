package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/intake-backend/api/responses"
	"github.com/angelmondragon/intake-backend/api/validators"
	"github.com/angelmondragon/intake-backend/internal/drafts"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

// DraftSave handles POST /draft for the create, update and submit actions.
func DraftSave(svc drafts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req types.DraftRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		action, err := enums.ParseDraftAction(req.Action)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown action"))
			return
		}
		if action != enums.DraftActionCreate && strings.TrimSpace(req.Code) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "code is required").
				WithDetails(map[string]string{"code": "is required"}))
			return
		}
		if req.Code != "" && logg != nil {
			ctx = logg.WithCode(ctx, req.Code)
		}

		var ref *drafts.Ref
		switch action {
		case enums.DraftActionCreate:
			ref, err = svc.Create(ctx, drafts.CreateInput{
				Payload:      req.Payload,
				Step:         req.Step,
				ContactHints: req.ContactHints,
				Locale:       req.Locale,
			})
		case enums.DraftActionUpdate:
			ref, err = svc.Update(ctx, drafts.UpdateInput{
				Code:             req.Code,
				ExternalRecordID: req.ExternalRecordID,
				Payload:          req.Payload,
				Step:             req.Step,
				ContactHints:     req.ContactHints,
				Locale:           req.Locale,
			})
		case enums.DraftActionSubmit:
			ref, err = svc.Finalize(ctx, req.Code, req.ExternalRecordID)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, types.DraftRef{
			Ack:              types.OK(),
			Code:             ref.Code,
			ExternalRecordID: ref.ExternalRecordID,
		})
	}
}

// DraftFetch handles GET /draft?code=.
func DraftFetch(svc drafts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		code := strings.TrimSpace(r.URL.Query().Get("code"))
		if code == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "code is required"))
			return
		}

		session, err := svc.FetchByCode(ctx, code)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, types.DraftSession{
			Ack:              types.OK(),
			Code:             session.Code,
			ExternalRecordID: session.ExternalRecordID,
			Payload:          session.Payload,
			Step:             session.Step,
			Status:           session.Status.String(),
			Locale:           session.Locale,
		})
	}
}
