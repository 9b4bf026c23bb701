package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/internal/locale"
	"github.com/angelmondragon/intake-backend/internal/wizard"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

type fakeSessions struct {
	saved     map[string]wizard.Session
	finalized string
}

func (f *fakeSessions) Create(_ context.Context, req wizard.CreateRequest) (wizard.SessionRef, error) {
	f.saved["ABC2345"] = wizard.Session{Code: "ABC2345", Payload: req.Payload, Step: req.Step, Status: enums.DraftStatusDraft}
	return wizard.SessionRef{Code: "ABC2345"}, nil
}

func (f *fakeSessions) Update(_ context.Context, req wizard.UpdateRequest) (wizard.SessionRef, error) {
	if _, ok := f.saved[req.Code]; !ok {
		return wizard.SessionRef{}, pkgerrors.New(pkgerrors.CodeNotFound, "draft not found")
	}
	f.saved[req.Code] = wizard.Session{Code: req.Code, Payload: req.Payload, Step: req.Step, Status: enums.DraftStatusDraft}
	return wizard.SessionRef{Code: req.Code}, nil
}

func (f *fakeSessions) FetchByCode(_ context.Context, code string) (*wizard.Session, error) {
	sess, ok := f.saved[code]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "draft not found")
	}
	return &sess, nil
}

func (f *fakeSessions) Finalize(_ context.Context, code, _ string) error {
	f.finalized = code
	return nil
}

type fakeAttachments struct{ owner string }

func (f *fakeAttachments) Upload(_ context.Context, owner string, file wizard.File) (*wizard.Upload, error) {
	f.owner = owner
	_, _ = io.Copy(io.Discard, file.Body)
	return &wizard.Upload{URLs: []string{"https://cdn.test/" + file.Name}, FileName: file.Name}, nil
}

type fakeFinalizer struct{ last wizard.Submission }

func (f *fakeFinalizer) Submit(_ context.Context, sub wizard.Submission) (string, error) {
	f.last = sub
	return "item-1", nil
}

type harness struct {
	sh       *shell
	out      *bytes.Buffer
	sessions *fakeSessions
	uploads  *fakeAttachments
	final    *fakeFinalizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := locale.Load("en")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	h := &harness{
		out:      &bytes.Buffer{},
		sessions: &fakeSessions{saved: map[string]wizard.Session{}},
		uploads:  &fakeAttachments{},
		final:    &fakeFinalizer{},
	}
	ctrl, err := wizard.New(wizard.Params{
		Sessions:    h.sessions,
		Attachments: h.uploads,
		Finalizer:   h.final,
		Lookup:      catalog,
		Locale:      "en",
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.sh = newShell(ctrl, catalog, strings.NewReader(""), h.out)
	h.sh.open = func(path string) (io.ReadCloser, int64, error) {
		return io.NopCloser(strings.NewReader("%PDF-1.4")), 8, nil
	}
	return h
}

func (h *harness) run(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if quit := h.sh.exec(context.Background(), line); quit && line != "submit" {
			t.Fatalf("unexpected quit on %q", line)
		}
	}
}

func TestShellCompletesIntake(t *testing.T) {
	h := newHarness(t)

	h.run(t,
		"set contact.fullName Jean Dupont",
		"set contact.email jean@example.com",
		"set contact.phone +33 6 12 34 56 78",
		"next",
		"set composition.adults 2",
		"next",
		"transfer none",
		"next",
		"participant 1 Jean Dupont 1980-01-02",
		"attach 1 /tmp/scans/passport.pdf",
		"next",
		"set preferences.wantsQuestionnaire false",
		"activity kayak",
		"next",
	)
	if !h.sh.exec(context.Background(), "submit") {
		t.Fatalf("expected shell to exit after submit; output:\n%s", h.out.String())
	}

	out := h.out.String()
	if !strings.Contains(out, "Your resume code is ABC2345") {
		t.Fatalf("expected resume code message; output:\n%s", out)
	}
	if !strings.Contains(out, "Thank you!") {
		t.Fatalf("expected submitted message; output:\n%s", out)
	}
	if h.uploads.owner == "" {
		t.Fatal("expected upload owner label")
	}
	sub := h.final.last
	if sub.Code != "ABC2345" || sub.Payload.Contact.Phone != "+33 6 12 34 56 78" {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if len(sub.Payload.AttachmentRefs) != 1 || sub.Payload.AttachmentRefs[0] != "https://cdn.test/passport.pdf" {
		t.Fatalf("unexpected attachment refs %v", sub.Payload.AttachmentRefs)
	}
	if h.sessions.finalized != "ABC2345" {
		t.Fatalf("expected draft to be finalized, got %q", h.sessions.finalized)
	}
}

func TestShellReportsValidationFields(t *testing.T) {
	h := newHarness(t)

	h.run(t, "set contact.email nope", "next")

	out := h.out.String()
	for _, want := range []string{"contact.fullName", "contact.email"} {
		if !strings.Contains(out, "! "+want) {
			t.Fatalf("expected %s to be reported; output:\n%s", want, out)
		}
	}
	if h.sh.ctrl.Step() != 1 {
		t.Fatalf("advance should be blocked, step=%d", h.sh.ctrl.Step())
	}
}

func TestShellResumeUnknownCode(t *testing.T) {
	h := newHarness(t)

	h.run(t, "resume abc-2345")

	if !strings.Contains(h.out.String(), "No registration matches this code") {
		t.Fatalf("expected localized not-found message; output:\n%s", h.out.String())
	}
}

func TestShellRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	h.run(t, "set unknown.field x", "party many", "frobnicate")

	out := h.out.String()
	for _, want := range []string{`unknown field "unknown.field"`, "usage: party <n>", "usage: help"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSetFieldParsesValues(t *testing.T) {
	p := intake.NewPayload()
	if err := setField(&p, "composition.children6to11", "3"); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if p.Composition.Children6to11 != 3 {
		t.Fatalf("expected 3 children, got %d", p.Composition.Children6to11)
	}
	if err := setField(&p, "composition.adults", "-1"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for negative count, got %v", err)
	}
	if err := setField(&p, "preferences.wantsQuestionnaire", "maybe"); err == nil {
		t.Fatal("expected error for non-boolean")
	}
	if err := setField(&p, "preferences.wantsQuestionnaire", "true"); err != nil || p.Preferences.WantsQuestionnaire == nil || !*p.Preferences.WantsQuestionnaire {
		t.Fatalf("expected questionnaire flag, err=%v", err)
	}
	if len(fieldNames()) != len(fieldSetters) {
		t.Fatal("fieldNames should list every setter")
	}
}
