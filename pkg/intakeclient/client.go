package intakeclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/internal/wizard"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

const (
	defaultTimeout              = 20 * time.Second
	responseBodyReadLimit int64 = 4096
	apiPrefix                   = "/api/v1"
)

var errBaseRequired = errors.New("intake api url is required")

// Client talks to the intake API. It implements the wizard's session store,
// attachment store and finalizer ports.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var (
	_ wizard.SessionStore    = (*Client)(nil)
	_ wizard.AttachmentStore = (*Client)(nil)
	_ wizard.Finalizer       = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client. Uploads share it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errBaseRequired
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse intake api url: %w", err)
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type draftBody struct {
	Action           enums.DraftAction  `json:"action"`
	Code             string             `json:"code,omitempty"`
	ExternalRecordID string             `json:"externalRecordId,omitempty"`
	Payload          *intake.Payload    `json:"payload,omitempty"`
	Step             int                `json:"step"`
	ContactHints     types.ContactHints `json:"contactHints"`
	Locale           string             `json:"locale,omitempty"`
}

type submitBody struct {
	Payload          intake.Payload `json:"payload"`
	Code             string         `json:"code,omitempty"`
	ExternalRecordID string         `json:"externalRecordId,omitempty"`
	Locale           string         `json:"locale,omitempty"`
}

type sessionBody struct {
	Code             string          `json:"code"`
	ExternalRecordID string          `json:"externalRecordId"`
	Payload          json.RawMessage `json:"payload"`
	Step             int             `json:"step"`
	Status           string          `json:"status"`
	Locale           string          `json:"locale"`
}

func (c *Client) Create(ctx context.Context, req wizard.CreateRequest) (wizard.SessionRef, error) {
	payload := req.Payload
	return c.saveDraft(ctx, draftBody{
		Action:       enums.DraftActionCreate,
		Payload:      &payload,
		Step:         req.Step,
		ContactHints: req.ContactHints,
		Locale:       req.Locale,
	})
}

func (c *Client) Update(ctx context.Context, req wizard.UpdateRequest) (wizard.SessionRef, error) {
	payload := req.Payload
	return c.saveDraft(ctx, draftBody{
		Action:           enums.DraftActionUpdate,
		Code:             req.Code,
		ExternalRecordID: req.ExternalRecordID,
		Payload:          &payload,
		Step:             req.Step,
		ContactHints:     req.ContactHints,
		Locale:           req.Locale,
	})
}

// Finalize marks the draft submitted. The server treats repeats as no-ops.
func (c *Client) Finalize(ctx context.Context, code, externalRecordID string) error {
	_, err := c.saveDraft(ctx, draftBody{
		Action:           enums.DraftActionSubmit,
		Code:             code,
		ExternalRecordID: externalRecordID,
	})
	return err
}

func (c *Client) saveDraft(ctx context.Context, body draftBody) (wizard.SessionRef, error) {
	var out types.DraftRef
	if err := c.doJSON(ctx, http.MethodPost, "/draft", nil, body, "", &out); err != nil {
		return wizard.SessionRef{}, err
	}
	return wizard.SessionRef{Code: out.Code, ExternalRecordID: out.ExternalRecordID}, nil
}

func (c *Client) FetchByCode(ctx context.Context, code string) (*wizard.Session, error) {
	var out sessionBody
	query := url.Values{"code": []string{code}}
	if err := c.doJSON(ctx, http.MethodGet, "/draft", query, nil, "", &out); err != nil {
		return nil, err
	}

	payload := intake.NewPayload()
	if len(out.Payload) > 0 && string(out.Payload) != "null" {
		if err := json.Unmarshal(out.Payload, &payload); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "decode stored payload")
		}
	}
	return &wizard.Session{
		Code:             out.Code,
		ExternalRecordID: out.ExternalRecordID,
		Payload:          payload,
		Step:             out.Step,
		Status:           enums.DraftStatus(out.Status),
		Locale:           out.Locale,
	}, nil
}

// Submit forwards the finished intake. The Idempotency-Key is derived from
// the code and body, so an identical retry replays and an edited one does not.
func (c *Client) Submit(ctx context.Context, sub wizard.Submission) (string, error) {
	body := submitBody{
		Payload:          sub.Payload,
		Code:             sub.Code,
		ExternalRecordID: sub.ExternalRecordID,
		Locale:           sub.Locale,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal submission")
	}

	var out types.SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/submit", nil, json.RawMessage(raw), submitKey(sub.Code, raw), &out); err != nil {
		return "", err
	}
	if out.ItemID == "" {
		return "", pkgerrors.New(pkgerrors.CodeFinalization, "submission returned no record id")
	}
	return out.ItemID, nil
}

func submitKey(code string, body []byte) string {
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:8])
	if code == "" {
		return "submit-" + digest
	}
	return "submit-" + code + "-" + digest
}

// Upload streams file as multipart form data.
func (c *Client) Upload(ctx context.Context, owner string, file wizard.File) (*wizard.Upload, error) {
	if file.Body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file body is required")
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(form, owner, file)
		if err == nil {
			err = form.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload", nil), pr)
	if err != nil {
		_ = pr.Close()
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out types.UploadResult
	if err := c.do(req, &out); err != nil {
		_ = pr.Close()
		return nil, err
	}
	return &wizard.Upload{URLs: out.URLs, FileName: out.FileName}, nil
}

func writeUploadForm(form *multipart.Writer, owner string, file wizard.File) error {
	if err := form.WriteField("owner", owner); err != nil {
		return err
	}
	part, err := form.CreateFormFile("file", file.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file.Body)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, idemKey string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "intake api unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode intake api response")
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// decodeError rebuilds the typed error carried by an error envelope. Bodies
// without a known code fall back to a code derived from the status.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))

	var env types.ErrorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.ErrorCode != "" {
		code := pkgerrors.Code(env.ErrorCode)
		msg := env.Error
		if msg == "" {
			msg = pkgerrors.MetadataFor(code).PublicMessage
		}
		typed := pkgerrors.New(code, msg)
		if env.Details != nil {
			typed = typed.WithDetails(env.Details)
		}
		return typed
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return pkgerrors.Wrap(codeForStatus(resp.StatusCode), fmt.Errorf("status %d: %s", resp.StatusCode, msg), "intake api request failed")
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusRequestEntityTooLarge:
		return pkgerrors.CodePayloadTooBig
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}
