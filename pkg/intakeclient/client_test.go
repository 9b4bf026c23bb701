package intakeclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/internal/wizard"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("http://api.test/", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func decodeBody(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewClient("not a url"); err == nil {
		t.Fatal("expected error for relative url")
	}
}

func TestCreatePostsDraftAction(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.String() != "http://api.test/api/v1/draft" {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL)
		}
		if req.Header.Get("Idempotency-Key") != "" {
			t.Fatalf("draft saves should not send an idempotency key")
		}
		body = decodeBody(t, req)
		return respond(http.StatusOK, `{"success":true,"code":"ABC2345","externalRecordId":"item-7"}`), nil
	})

	payload := intake.NewPayload()
	payload.Contact.FullName = "Jean Dupont"
	ref, err := client.Create(context.Background(), wizard.CreateRequest{
		Payload:      payload,
		Step:         2,
		ContactHints: payload.ContactHints(),
		Locale:       "fr",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref.Code != "ABC2345" || ref.ExternalRecordID != "item-7" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if body["action"] != "create" || body["step"] != float64(2) || body["locale"] != "fr" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["code"]; ok {
		t.Fatalf("create must not send a code")
	}
	hints, _ := body["contactHints"].(map[string]any)
	if hints["fullName"] != "Jean Dupont" {
		t.Fatalf("expected contact hints, got %v", body["contactHints"])
	}
}

func TestUpdateAndFinalizeSendCode(t *testing.T) {
	var bodies []map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		bodies = append(bodies, decodeBody(t, req))
		return respond(http.StatusOK, `{"success":true,"code":"ABC2345","externalRecordId":"item-9"}`), nil
	})

	ref, err := client.Update(context.Background(), wizard.UpdateRequest{
		Code:    "ABC2345",
		Payload: intake.NewPayload(),
		Step:    3,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ref.ExternalRecordID != "item-9" {
		t.Fatalf("expected adopted external id, got %+v", ref)
	}
	if err := client.Finalize(context.Background(), "ABC2345", "item-9"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if bodies[0]["action"] != "update" || bodies[0]["code"] != "ABC2345" {
		t.Fatalf("unexpected update body %v", bodies[0])
	}
	if bodies[1]["action"] != "submit" || bodies[1]["externalRecordId"] != "item-9" {
		t.Fatalf("unexpected finalize body %v", bodies[1])
	}
	if _, ok := bodies[1]["payload"]; ok {
		t.Fatalf("finalize must not resend the payload")
	}
}

func TestFetchByCodeDecodesSession(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet || req.URL.Query().Get("code") != "ABC2345" {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL)
		}
		return respond(http.StatusOK, `{"success":true,"code":"ABC2345","payload":{"contact":{"fullName":"Ana"},"partySize":2,"participants":[{"name":"Ana"},{"name":"Leo"}]},"step":4,"status":"draft","locale":"es"}`), nil
	})

	sess, err := client.FetchByCode(context.Background(), "ABC2345")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sess.Step != 4 || sess.Status != enums.DraftStatusDraft || sess.Locale != "es" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Payload.Contact.FullName != "Ana" || len(sess.Payload.Participants) != 2 {
		t.Fatalf("unexpected payload %+v", sess.Payload)
	}
}

func TestFetchByCodeMapsNotFound(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusNotFound, `{"success":false,"error":"draft not found","errorCode":"NOT_FOUND"}`), nil
	})

	_, err := client.FetchByCode(context.Background(), "ZZZ9999")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Message() != "draft not found" {
		t.Fatalf("expected server message to be preserved, got %v", err)
	}
}

func TestErrorsWithoutEnvelopeUseStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusBadGateway, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		client := newTestClient(t, func(*http.Request) (*http.Response, error) {
			return respond(tt.status, "upstream says no"), nil
		})
		_, err := client.FetchByCode(context.Background(), "ABC2345")
		if !pkgerrors.IsCode(err, tt.code) {
			t.Fatalf("status %d: expected %s, got %v", tt.status, tt.code, err)
		}
	}
}

func TestTransportFailureIsDependency(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := client.Create(context.Background(), wizard.CreateRequest{Payload: intake.NewPayload()})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected DEPENDENCY, got %v", err)
	}
}

func TestSubmitSendsStableIdempotencyKey(t *testing.T) {
	var keys []string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/submit" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		keys = append(keys, req.Header.Get("Idempotency-Key"))
		body := decodeBody(t, req)
		if body["code"] != "ABC2345" {
			t.Fatalf("unexpected body %v", body)
		}
		return respond(http.StatusOK, `{"success":true,"itemId":"item-42"}`), nil
	})

	payload := intake.NewPayload()
	sub := wizard.Submission{Payload: payload, Code: "ABC2345", Locale: "en"}
	for i := 0; i < 2; i++ {
		itemID, err := client.Submit(context.Background(), sub)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if itemID != "item-42" {
			t.Fatalf("unexpected item id %q", itemID)
		}
	}
	payload.Contact.FullName = "Edited"
	if _, err := client.Submit(context.Background(), wizard.Submission{Payload: payload, Code: "ABC2345"}); err != nil {
		t.Fatalf("submit edited: %v", err)
	}

	if keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("identical submissions should share a key, got %v", keys)
	}
	if keys[2] == keys[0] {
		t.Fatalf("edited submission should use a new key")
	}
	if !strings.HasPrefix(keys[0], "submit-ABC2345-") {
		t.Fatalf("unexpected key format %q", keys[0])
	}
}

func TestSubmitFailureKeepsTypedCode(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusBadGateway, `{"success":false,"error":"submission failed","errorCode":"FINALIZATION_FAILED"}`), nil
	})
	_, err := client.Submit(context.Background(), wizard.Submission{Payload: intake.NewPayload()})
	if !pkgerrors.IsCode(err, pkgerrors.CodeFinalization) {
		t.Fatalf("expected FINALIZATION_FAILED, got %v", err)
	}
}

func TestUploadStreamsMultipartForm(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Fatalf("unexpected content type %q", req.Header.Get("Content-Type"))
		}
		reader := multipart.NewReader(req.Body, params["boundary"])
		form, err := reader.ReadForm(1 << 20)
		if err != nil {
			t.Fatalf("read form: %v", err)
		}
		if got := form.Value["owner"]; len(got) != 1 || got[0] != "Jean Dupont" {
			t.Fatalf("unexpected owner %v", got)
		}
		files := form.File["file"]
		if len(files) != 1 || files[0].Filename != "passport.pdf" {
			t.Fatalf("unexpected files %v", files)
		}
		f, err := files[0].Open()
		if err != nil {
			t.Fatalf("open part: %v", err)
		}
		data, _ := io.ReadAll(f)
		_ = f.Close()
		if string(data) != "%PDF-1.4 test" {
			t.Fatalf("unexpected file content %q", data)
		}
		return respond(http.StatusOK, `{"success":true,"urls":["https://cdn.test/a.pdf"],"fileName":"passport.pdf"}`), nil
	})

	up, err := client.Upload(context.Background(), "Jean Dupont", wizard.File{
		Name: "passport.pdf",
		Body: strings.NewReader("%PDF-1.4 test"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(up.URLs) != 1 || up.URLs[0] != "https://cdn.test/a.pdf" || up.FileName != "passport.pdf" {
		t.Fatalf("unexpected upload %+v", up)
	}
}

func TestUploadRejectionMapsCode(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		_, _ = io.Copy(io.Discard, req.Body)
		return respond(http.StatusRequestEntityTooLarge, `{"success":false,"error":"file too large","errorCode":"PAYLOAD_TOO_LARGE","details":{"maxBytes":10}}`), nil
	})
	_, err := client.Upload(context.Background(), "x", wizard.File{Name: "a.pdf", Body: strings.NewReader("data")})
	if !pkgerrors.IsCode(err, pkgerrors.CodePayloadTooBig) {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %v", err)
	}
	if typed := pkgerrors.As(err); typed.Details() == nil {
		t.Fatalf("expected details to survive")
	}
	if _, err := client.Upload(context.Background(), "x", wizard.File{Name: "a.pdf"}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION for missing body, got %v", err)
	}
}
