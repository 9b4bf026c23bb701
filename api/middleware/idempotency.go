package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/intake-backend/api/responses"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/intake-backend/pkg/redis"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// A claim outlives the slowest CRM submit; a crashed instance frees it on expiry.
	pendingIdempotencyTTL = 2 * time.Minute

	maxIdempotentBodyBytes = 1 << 20
	maxIdempotencyKeyBytes = 255
)

type idempotencyRule struct {
	method string
	route  string
	ttl    time.Duration
	// required rejects requests without an Idempotency-Key header.
	required bool
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, route: "/api/v1/draft", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, route: "/api/v1/submit", ttl: criticalIdempotencyTTL, required: true},
}

type recordState string

const (
	statePending  recordState = "pending"
	stateComplete recordState = "complete"
)

// idempotencyRecord is stored under the key twice: first as a pending claim
// while the handler runs, then overwritten with the captured response.
type idempotencyRecord struct {
	State       recordState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        string      `json:"body,omitempty"`
}

// Idempotency makes the matched routes safe to retry. The first request with a
// key claims it, concurrent duplicates get IN_FLIGHT, later duplicates replay
// the stored response, and a reused key with a different body is rejected.
// 5xx responses release the claim so the client can retry with the same key.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "" && !rule.required:
				next.ServeHTTP(w, r)
				return
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyBytes:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBodyBytes+1))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			if len(body) > maxIdempotentBodyBytes {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodePayloadTooBig, "request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(rule.route, clientKey)
			hash := hashBody(body)

			existing, err := claim(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if existing != nil {
				switch {
				case existing.RequestHash != hash:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case existing.State == statePending:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInFlight, "a request with this idempotency key is still running"))
				default:
					writeStoredResponse(w, existing)
				}
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			finished := false
			defer func() {
				if !finished {
					release(context.WithoutCancel(ctx), store, key, logg)
				}
			}()
			next.ServeHTTP(capture, r)
			finished = true

			status := capture.statusCode()
			if !storable(status, capture.body.Bytes()) {
				release(context.WithoutCancel(ctx), store, key, logg)
				return
			}
			record := idempotencyRecord{
				State:       stateComplete,
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
			}
			if err := store.Set(context.WithoutCancel(ctx), key, encodeRecord(record), rule.ttl); err != nil && logg != nil {
				logg.Error(logg.WithField(ctx, "idempotency_key", key), "idempotency.persist_failed", err)
			}
		})
	}
}

// claim writes a pending record under key. When the key is already taken the
// stored record is returned instead. A claim that expires between the SETNX
// and the read is retried once.
func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (*idempotencyRecord, error) {
	pending := encodeRecord(idempotencyRecord{State: statePending, RequestHash: hash})
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := store.SetNX(ctx, key, pending, pendingIdempotencyTTL)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key")
		}
		if ok {
			return nil, nil
		}

		stored, err := store.Get(ctx, key)
		if pkgredis.IsMiss(err) {
			continue
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
		}
		var record idempotencyRecord
		if err := json.Unmarshal([]byte(stored), &record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
		}
		return &record, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeInFlight, "idempotency key is contended, retry")
}

func release(ctx context.Context, store pkgredis.IdempotencyStore, key string, logg *logger.Logger) {
	if err := store.Del(ctx, key); err != nil && logg != nil {
		logg.Error(logg.WithField(ctx, "idempotency_key", key), "idempotency.release_failed", err)
	}
}

// storable reports whether a response may be replayed for the key's TTL.
// Server failures, 429s and error envelopes carrying a retryable code free
// the key so the same request can run again.
func storable(status int, body []byte) bool {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return false
	}
	if status < http.StatusBadRequest {
		return true
	}
	var env types.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.ErrorCode == "" {
		return true
	}
	return !pkgerrors.MetadataFor(pkgerrors.Code(env.ErrorCode)).Retryable
}

func encodeRecord(record idempotencyRecord) string {
	raw, _ := json.Marshal(record)
	return string(raw)
}

func writeStoredResponse(w http.ResponseWriter, record *idempotencyRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func matchRule(method, pattern string) (idempotencyRule, bool) {
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.route == pattern {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
