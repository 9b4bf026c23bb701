package wizard

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

// memoryStore is an in-memory SessionStore that records calls.
type memoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	seq       int
	creates   int
	updates   int
	fetches   int
	finalizes int

	createFn   func(ctx context.Context, req CreateRequest) (SessionRef, error)
	updateFn   func(ctx context.Context, req UpdateRequest) (SessionRef, error)
	fetchFn    func(ctx context.Context, code string) (*Session, error)
	finalizeFn func(ctx context.Context, code, externalRecordID string) error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[string]*Session{}}
}

func (m *memoryStore) Create(ctx context.Context, req CreateRequest) (SessionRef, error) {
	m.mu.Lock()
	m.creates++
	fn := m.createFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return m.create(req), nil
}

func (m *memoryStore) create(req CreateRequest) SessionRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	code := fmt.Sprintf("ABC%04d", m.seq)
	m.sessions[code] = &Session{
		Code:    code,
		Payload: req.Payload.Clone(),
		Step:    req.Step,
		Status:  enums.DraftStatusDraft,
		Locale:  req.Locale,
	}
	return SessionRef{Code: code}
}

func (m *memoryStore) Update(ctx context.Context, req UpdateRequest) (SessionRef, error) {
	m.mu.Lock()
	m.updates++
	fn := m.updateFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[req.Code]
	if !ok {
		return SessionRef{}, pkgerrors.New(pkgerrors.CodeNotFound, "draft not found")
	}
	sess.Payload = req.Payload.Clone()
	sess.Step = req.Step
	if sess.ExternalRecordID == "" {
		sess.ExternalRecordID = req.ExternalRecordID
	}
	return SessionRef{Code: sess.Code, ExternalRecordID: sess.ExternalRecordID}, nil
}

func (m *memoryStore) FetchByCode(ctx context.Context, code string) (*Session, error) {
	m.mu.Lock()
	m.fetches++
	fn := m.fetchFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[code]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "draft not found")
	}
	out := *sess
	out.Payload = sess.Payload.Clone()
	return &out, nil
}

func (m *memoryStore) Finalize(ctx context.Context, code, externalRecordID string) error {
	m.mu.Lock()
	m.finalizes++
	fn := m.finalizeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, code, externalRecordID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[code]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "draft not found")
	}
	sess.Status = enums.DraftStatusSubmitted
	sess.ExternalRecordID = externalRecordID
	return nil
}

func (m *memoryStore) counts() (creates, updates, fetches, finalizes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.updates, m.fetches, m.finalizes
}

type stubAttachments struct {
	uploadFn func(ctx context.Context, owner string, file File) (*Upload, error)
}

func (s *stubAttachments) Upload(ctx context.Context, owner string, file File) (*Upload, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, owner, file)
	}
	return &Upload{URLs: []string{"https://cdn.example.com/" + file.Name}, FileName: file.Name}, nil
}

type stubFinalizer struct {
	mu       sync.Mutex
	calls    int
	last     Submission
	submitFn func(ctx context.Context, sub Submission) (string, error)
}

func (s *stubFinalizer) Submit(ctx context.Context, sub Submission) (string, error) {
	s.mu.Lock()
	s.calls++
	s.last = sub
	fn := s.submitFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, sub)
	}
	return "item-1", nil
}

type mapLookup map[string]string

func (m mapLookup) Text(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

func (m mapLookup) EnumLabel(enum, value string) string {
	return m.Text(enum + "." + value)
}

func validContact() intake.Contact {
	return intake.Contact{FullName: "A B", Phone: "+33000", Email: "a@b.com"}
}

func boolPtr(v bool) *bool { return &v }

// completePayload passes every step.
func completePayload() intake.Payload {
	p := intake.NewPayload()
	p.Contact = validContact()
	p.Composition = intake.Composition{Adults: 1}
	p.Transfers = intake.Transfers{Option: enums.TransferNone}
	p.Participants[0] = intake.Participant{Name: "A B", BirthDate: "1990-01-02"}
	p.Preferences.WantsQuestionnaire = boolPtr(false)
	return p
}
