package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/metrics"
)

const defaultMaxUploadBytes = 10 * 1024 * 1024

var allowedMimeTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/webp",
	"image/heic",
	"image/heif",
}

// Service stores participant documents.
type Service interface {
	Upload(ctx context.Context, input UploadInput) (*UploadOutput, error)
}

type UploadInput struct {
	Owner    string
	FileName string
	// Size is the declared size; the body is still capped while reading.
	Size int64
	Body io.Reader
}

type UploadOutput struct {
	URLs        []string
	FileName    string
	ContentType string
	Key         string
}

type service struct {
	backend  Backend
	maxBytes int64
	metrics  *metrics.IntakeMetrics
	logg     *logger.Logger
}

// NewService constructs an attachment service writing to backend.
func NewService(backend Backend, maxBytes int64, m *metrics.IntakeMetrics, logg *logger.Logger) (Service, error) {
	if backend == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "attachment backend required")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{backend: backend, maxBytes: maxBytes, metrics: m, logg: logg}, nil
}

func (s *service) Upload(ctx context.Context, input UploadInput) (*UploadOutput, error) {
	out, err := s.upload(ctx, input)
	switch {
	case err == nil:
		s.metrics.Upload(s.backend.Name(), metrics.OutcomeSuccess)
	case pkgerrors.IsCode(err, pkgerrors.CodeAttachment):
		s.metrics.Upload(s.backend.Name(), metrics.OutcomeFailure)
	default:
		s.metrics.Upload(s.backend.Name(), metrics.OutcomeRejected)
	}
	return out, err
}

func (s *service) upload(ctx context.Context, input UploadInput) (*UploadOutput, error) {
	owner := strings.TrimSpace(input.Owner)
	if owner == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner is required")
	}
	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if input.Body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is required")
	}
	if input.Size > s.maxBytes {
		return nil, s.tooLarge()
	}

	data, err := io.ReadAll(io.LimitReader(input.Body, s.maxBytes+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, s.tooLarge()
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is empty")
	}

	detected := mimetype.Detect(data)
	contentType, ok := allowedType(detected)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file type not allowed").
			WithDetails(map[string]any{"contentType": detected.String(), "allowed": allowedMimeTypes})
	}

	key := buildObjectKey(owner, uuid.New(), fileName, detected.Extension())
	url, err := s.backend.Put(ctx, key, contentType, bytes.NewReader(data))
	if err != nil {
		s.logg.WarnErr(s.logg.WithFields(ctx, map[string]any{
			"backend":    s.backend.Name(),
			"object_key": key,
		}), "attachments.upload.failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeAttachment, err, "store attachment").
			WithDetails(map[string]any{"fileName": fileName})
	}

	return &UploadOutput{
		URLs:        []string{url},
		FileName:    fileName,
		ContentType: contentType,
		Key:         key,
	}, nil
}

func (s *service) tooLarge() error {
	return pkgerrors.New(pkgerrors.CodePayloadTooBig, fmt.Sprintf("file must be at most %d bytes", s.maxBytes)).
		WithDetails(map[string]any{"maxBytes": s.maxBytes})
}

func allowedType(detected *mimetype.MIME) (string, bool) {
	for _, candidate := range allowedMimeTypes {
		if detected.Is(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func buildObjectKey(owner string, id uuid.UUID, fileName, ext string) string {
	cleanName := sanitizeFileName(fileName)
	if cleanName == "" {
		cleanName = id.String() + ext
	}
	ownerSlug := slug(owner)
	if ownerSlug == "" {
		ownerSlug = "unassigned"
	}
	return fmt.Sprintf("attachments/%s/%s/%s", ownerSlug, id.String(), cleanName)
}

func sanitizeFileName(name string) string {
	clean := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if clean == "." || clean == "/" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(clean))
	for _, r := range clean {
		switch {
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_.")
}

func slug(value string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(value) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
