package attachments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/storage/cloudinary"
	"github.com/angelmondragon/intake-backend/pkg/storage/gcs"
)

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
	pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
)

type stubBackend struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Put(_ context.Context, key, contentType string, body io.Reader) (string, error) {
	s.key = key
	s.contentType = contentType
	s.body, _ = io.ReadAll(body)
	if s.err != nil {
		return "", s.err
	}
	return "https://cdn.example.com/" + key, nil
}

func TestUploadStoresDocument(t *testing.T) {
	backend := &stubBackend{}
	svc, err := NewService(backend, 1024, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	out, err := svc.Upload(context.Background(), UploadInput{
		Owner:    "Jean Dupont",
		FileName: "Passport scan.pdf",
		Size:     int64(len(pdfBytes)),
		Body:     bytes.NewReader(pdfBytes),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out.FileName != "Passport scan.pdf" || out.ContentType != "application/pdf" {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(out.URLs) != 1 || out.URLs[0] != "https://cdn.example.com/"+backend.key {
		t.Fatalf("unexpected urls %v", out.URLs)
	}
	if !strings.HasPrefix(backend.key, "attachments/jean-dupont/") || !strings.HasSuffix(backend.key, "/Passport-scan.pdf") {
		t.Fatalf("unexpected key %q", backend.key)
	}
	if !bytes.Equal(backend.body, pdfBytes) {
		t.Fatal("backend received a different body")
	}
}

func TestUploadAcceptsImages(t *testing.T) {
	backend := &stubBackend{}
	svc, _ := NewService(backend, 1024, nil, nil)
	out, err := svc.Upload(context.Background(), UploadInput{Owner: "a", FileName: "id.png", Body: bytes.NewReader(pngBytes)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out.ContentType != "image/png" || backend.contentType != "image/png" {
		t.Fatalf("unexpected content type %q", out.ContentType)
	}
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	backend := &stubBackend{}
	svc, _ := NewService(backend, 1024, nil, nil)
	_, err := svc.Upload(context.Background(), UploadInput{
		Owner:    "a",
		FileName: "notes.pdf",
		Body:     strings.NewReader("just some text pretending to be a pdf"),
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if backend.key != "" {
		t.Fatal("rejected file must not reach the backend")
	}
}

func TestUploadSizeLimits(t *testing.T) {
	svc, _ := NewService(&stubBackend{}, 16, nil, nil)

	_, err := svc.Upload(context.Background(), UploadInput{Owner: "a", FileName: "a.pdf", Size: 17, Body: bytes.NewReader(pdfBytes)})
	if !pkgerrors.IsCode(err, pkgerrors.CodePayloadTooBig) {
		t.Fatalf("declared size over limit should fail, got %v", err)
	}
	_, err = svc.Upload(context.Background(), UploadInput{Owner: "a", FileName: "a.pdf", Body: bytes.NewReader(pdfBytes)})
	if !pkgerrors.IsCode(err, pkgerrors.CodePayloadTooBig) {
		t.Fatalf("body over limit should fail, got %v", err)
	}
	_, err = svc.Upload(context.Background(), UploadInput{Owner: "a", FileName: "a.pdf", Body: bytes.NewReader(nil)})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("empty body should fail, got %v", err)
	}
}

func TestUploadRequiresOwnerAndName(t *testing.T) {
	svc, _ := NewService(&stubBackend{}, 1024, nil, nil)
	if _, err := svc.Upload(context.Background(), UploadInput{FileName: "a.pdf", Body: bytes.NewReader(pdfBytes)}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error without owner, got %v", err)
	}
	if _, err := svc.Upload(context.Background(), UploadInput{Owner: "a", Body: bytes.NewReader(pdfBytes)}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error without file name, got %v", err)
	}
}

func TestUploadBackendFailure(t *testing.T) {
	svc, _ := NewService(&stubBackend{err: errors.New("503")}, 1024, nil, nil)
	_, err := svc.Upload(context.Background(), UploadInput{Owner: "a", FileName: "a.pdf", Body: bytes.NewReader(pdfBytes)})
	if !pkgerrors.IsCode(err, pkgerrors.CodeAttachment) {
		t.Fatalf("expected attachment error, got %v", err)
	}
}

func TestNewServiceRequiresBackend(t *testing.T) {
	if _, err := NewService(nil, 0, nil, nil); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestBuildObjectKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	tests := []struct {
		owner, name, want string
	}{
		{"Jean Dupont", "scan.pdf", "attachments/jean-dupont/" + id.String() + "/scan.pdf"},
		{"  Ève!! ", "../../etc/passwd", "attachments/ve/" + id.String() + "/passwd"},
		{"***", "C:\\docs\\id card.png", "attachments/unassigned/" + id.String() + "/id-card.png"},
		{"a", "...", "attachments/a/" + id.String() + "/" + id.String() + ".pdf"},
	}
	for _, tt := range tests {
		if got := buildObjectKey(tt.owner, id, tt.name, ".pdf"); got != tt.want {
			t.Fatalf("buildObjectKey(%q, %q) = %q, want %q", tt.owner, tt.name, got, tt.want)
		}
	}
}

type stubGCSUploader struct {
	bucket string
}

func (s *stubGCSUploader) Upload(_ context.Context, bucket, object, contentType string, _ io.Reader) (*gcs.Object, error) {
	s.bucket = bucket
	return &gcs.Object{Bucket: bucket, Name: object, ContentType: contentType, URL: "https://storage.googleapis.com/" + bucket + "/" + object}, nil
}

type stubCloudinaryUploader struct{}

func (stubCloudinaryUploader) Upload(_ context.Context, key string, _ io.Reader) (*cloudinary.Asset, error) {
	return &cloudinary.Asset{PublicID: key, URL: "https://res.cloudinary.com/demo/" + key}, nil
}

func TestBackendAdapters(t *testing.T) {
	uploader := &stubGCSUploader{}
	gcsBackend := NewGCSBackend(uploader, "intake-docs")
	url, err := gcsBackend.Put(context.Background(), "attachments/a/b.pdf", "application/pdf", bytes.NewReader(pdfBytes))
	if err != nil || url != "https://storage.googleapis.com/intake-docs/attachments/a/b.pdf" || uploader.bucket != "intake-docs" {
		t.Fatalf("unexpected gcs result %q %v", url, err)
	}
	if gcsBackend.Name() != "gcs" {
		t.Fatalf("unexpected name %q", gcsBackend.Name())
	}

	cld := NewCloudinaryBackend(stubCloudinaryUploader{})
	url, err = cld.Put(context.Background(), "attachments/a/b.pdf", "application/pdf", bytes.NewReader(pdfBytes))
	if err != nil || url != "https://res.cloudinary.com/demo/attachments/a/b.pdf" {
		t.Fatalf("unexpected cloudinary result %q %v", url, err)
	}
	if cld.Name() != "cloudinary" {
		t.Fatalf("unexpected name %q", cld.Name())
	}
}
