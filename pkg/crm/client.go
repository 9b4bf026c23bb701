package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

const (
	defaultTimeout              = 15 * time.Second
	responseBodyReadLimit int64 = 1024

	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
)

var (
	errTokenRequired = errors.New("crm api token is required")
	errBoardRequired = errors.New("crm board id is required")
	errBaseRequired  = errors.New("crm base url is required")
)

// Client talks to the CRM board that holds one item per household intake.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	boardID    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds a CRM client for a single board.
func NewClient(baseURL, token, boardID string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	token = strings.TrimSpace(token)
	boardID = strings.TrimSpace(boardID)
	switch {
	case baseURL == "":
		return nil, errBaseRequired
	case token == "":
		return nil, errTokenRequired
	case boardID == "":
		return nil, errBoardRequired
	}

	client := &Client{
		baseURL:    baseURL,
		token:      token,
		boardID:    boardID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// DraftRecord is the lightweight backing item created while an intake is in progress.
type DraftRecord struct {
	ItemID string
	Code   string
	Name   string
	Email  string
	Phone  string
	Locale string
	Step   int
}

// Submission is the completed intake forwarded at finalization.
type Submission struct {
	ItemID         string
	Code           string
	Locale         string
	Name           string
	Email          string
	Phone          string
	Payload        json.RawMessage
	AttachmentURLs []string
}

type itemRequest struct {
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	Code        string          `json:"code,omitempty"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Locale      string          `json:"locale,omitempty"`
	Step        int             `json:"step,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
}

type itemResponse struct {
	ID string `json:"id"`
}

// UpsertDraft creates the backing item, or refreshes it when ItemID is known.
func (c *Client) UpsertDraft(ctx context.Context, rec DraftRecord) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "crm client not configured")
	}
	body := itemRequest{
		Name:   displayName(rec.Name, rec.Code),
		Status: StatusDraft,
		Code:   rec.Code,
		Email:  rec.Email,
		Phone:  rec.Phone,
		Locale: rec.Locale,
		Step:   rec.Step,
	}
	return c.writeItem(ctx, rec.ItemID, "", body)
}

// Submit writes the final payload. Re-submitting the same code reuses the
// Idempotency-Key so the CRM can collapse retries onto one item.
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "crm client not configured")
	}
	if len(sub.Payload) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "submission payload is required")
	}
	body := itemRequest{
		Name:        displayName(sub.Name, sub.Code),
		Status:      StatusSubmitted,
		Code:        sub.Code,
		Email:       sub.Email,
		Phone:       sub.Phone,
		Locale:      sub.Locale,
		Payload:     sub.Payload,
		Attachments: sub.AttachmentURLs,
	}
	idemKey := ""
	if sub.Code != "" {
		idemKey = "intake-submit-" + sub.Code
	}
	return c.writeItem(ctx, sub.ItemID, idemKey, body)
}

func (c *Client) writeItem(ctx context.Context, itemID, idemKey string, body itemRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal crm item")
	}

	method := http.MethodPost
	endpoint := c.buildURL("boards", c.boardID, "items")
	if itemID != "" {
		method = http.MethodPut
		endpoint = c.buildURL("boards", c.boardID, "items", itemID)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build crm request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute crm request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "crm request failed")
	}

	var out itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode crm response")
	}
	if out.ID == "" {
		if itemID != "" {
			return itemID, nil
		}
		return "", pkgerrors.New(pkgerrors.CodeDependency, "crm response missing item id")
	}
	return out.ID, nil
}

func (c *Client) buildURL(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func displayName(name, code string) string {
	name = strings.TrimSpace(name)
	switch {
	case name != "" && code != "":
		return fmt.Sprintf("%s (%s)", name, code)
	case name != "":
		return name
	case code != "":
		return code
	default:
		return "intake"
	}
}
