package controllers

import (
	"errors"
	"net/http"

	"github.com/angelmondragon/intake-backend/api/responses"
	"github.com/angelmondragon/intake-backend/api/validators"
	"github.com/angelmondragon/intake-backend/internal/attachments"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

const (
	multipartMemory   = 4 << 20
	multipartOverhead = 64 << 10
	maxOwnerLength    = 200
)

// Upload handles POST /upload: one multipart "file" part plus an "owner" label.
func Upload(svc attachments.Service, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodePayloadTooBig, err, "file too large").
					WithDetails(map[string]any{"maxBytes": maxBytes}))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form"))
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, header, err := r.FormFile("file")
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "file is required").
				WithDetails(map[string]string{"file": "is required"}))
			return
		}
		defer file.Close()

		out, err := svc.Upload(ctx, attachments.UploadInput{
			Owner:    validators.SanitizeString(r.FormValue("owner"), maxOwnerLength),
			FileName: header.Filename,
			Size:     header.Size,
			Body:     file,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, types.UploadResult{
			Ack:      types.OK(),
			URLs:     out.URLs,
			FileName: out.FileName,
		})
	}
}
