package wizard

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

// State is the lifecycle of a controller. Succeeded is absorbing.
type State string

const (
	StateEditing   State = "editing"
	StateSucceeded State = "succeeded"
)

type operation string

const (
	opNone    operation = ""
	opAdvance operation = "advance"
	opResume  operation = "resume"
	opSubmit  operation = "submit"
	opAttach  operation = "attach"
)

const noUpload = -1

// Params wires a Controller. Sessions, Attachments and Finalizer are required.
type Params struct {
	Sessions    SessionStore
	Attachments AttachmentStore
	Finalizer   Finalizer
	Lookup      Lookup
	Logger      *logger.Logger
	Policy      intake.Policy
	// Steps defaults to intake.DefaultSteps.
	Steps  []intake.StepSpec
	Locale string
	// Payload seeds the form; nil starts from intake.NewPayload.
	Payload *intake.Payload
}

// Controller drives one intake flow. It is safe for concurrent use, but at
// most one network-bound operation runs at a time.
type Controller struct {
	sessions    SessionStore
	attachments AttachmentStore
	finalizer   Finalizer
	lookup      Lookup
	logg        *logger.Logger
	policy      intake.Policy
	steps       []intake.StepSpec
	locale      string

	mu          sync.Mutex
	payload     intake.Payload
	step        int
	state       State
	code        string
	externalID  string
	pendingSync bool
	inflight    operation
	uploading   int
	// uploadDropped is set when an edit removes the row being uploaded.
	uploadDropped bool
}

// New builds a controller positioned on the first step with no session.
func New(p Params) (*Controller, error) {
	if p.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "session store required")
	}
	if p.Attachments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "attachment store required")
	}
	if p.Finalizer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "finalizer required")
	}
	steps := p.Steps
	if len(steps) == 0 {
		steps = intake.DefaultSteps()
	}
	lookup := p.Lookup
	if lookup == nil {
		lookup = keyLookup{}
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	payload := intake.NewPayload()
	if p.Payload != nil {
		payload = p.Payload.Clone()
		payload.Normalize()
	}
	return &Controller{
		sessions:    p.Sessions,
		attachments: p.Attachments,
		finalizer:   p.Finalizer,
		lookup:      lookup,
		logg:        logg,
		policy:      p.Policy,
		steps:       steps,
		locale:      p.Locale,
		payload:     payload,
		step:        1,
		state:       StateEditing,
		uploading:   noUpload,
	}, nil
}

func inFlightError(running operation) error {
	return pkgerrors.New(pkgerrors.CodeInFlight, fmt.Sprintf("%s already in progress", running)).
		WithDetails(map[string]any{"operation": string(running)})
}

func succeededError() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "intake already submitted")
}

// guardLocked rejects work once submitted or while another operation runs.
// Callers hold mu.
func (c *Controller) guardLocked() error {
	if c.state == StateSucceeded {
		return succeededError()
	}
	if c.inflight != opNone {
		return inFlightError(c.inflight)
	}
	return nil
}

// beginLocked claims the single-flight slot. Callers hold mu and release the
// slot with endLocked.
func (c *Controller) beginLocked(op operation) error {
	if err := c.guardLocked(); err != nil {
		return err
	}
	c.inflight = op
	return nil
}

func (c *Controller) endLocked() {
	c.inflight = opNone
}

func (c *Controller) logContext(ctx context.Context, code string, step int) context.Context {
	if code != "" {
		ctx = c.logg.WithCode(ctx, code)
	}
	return c.logg.WithStep(ctx, step)
}

// Advance validates the active step, persists a snapshot and moves forward.
// The step pointer only moves once persistence has resolved; persistence
// failures are logged and leave the controller marked as pending sync.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if err := c.beginLocked(opAdvance); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.step >= len(c.steps) {
		step := c.step
		c.endLocked()
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "already at the final step").
			WithDetails(map[string]any{"step": step})
	}
	if res := c.steps[c.step-1].Validate(c.payload, c.policy); !res.Valid() {
		c.endLocked()
		c.mu.Unlock()
		return res.Err()
	}
	snapshot := c.payload.Clone()
	code, externalID := c.code, c.externalID
	next := c.step + 1
	c.mu.Unlock()

	ref, err := c.persist(ctx, code, externalID, snapshot, next)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked()
	lctx := c.logContext(ctx, code, next)
	if err != nil {
		c.pendingSync = true
		if code != "" && pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// The draft vanished server side; the next advance creates a new one.
			c.code = ""
			c.externalID = ""
		}
		c.logg.WarnErr(lctx, "wizard.persist.failed", err)
	} else {
		c.adoptLocked(lctx, ref)
		c.pendingSync = false
	}
	c.step = next
	return nil
}

func (c *Controller) persist(ctx context.Context, code, externalID string, snapshot intake.Payload, step int) (SessionRef, error) {
	if code == "" {
		return c.sessions.Create(ctx, CreateRequest{
			Payload:      snapshot,
			Step:         step,
			ContactHints: snapshot.ContactHints(),
			Locale:       c.locale,
		})
	}
	return c.sessions.Update(ctx, UpdateRequest{
		Code:             code,
		ExternalRecordID: externalID,
		Payload:          snapshot,
		Step:             step,
		ContactHints:     snapshot.ContactHints(),
		Locale:           c.locale,
	})
}

func (c *Controller) adoptLocked(ctx context.Context, ref SessionRef) {
	if ref.Code != "" && c.code == "" {
		c.code = ref.Code
		c.logg.Info(c.logg.WithCode(ctx, ref.Code), "wizard.session.created")
	}
	if ref.ExternalRecordID != "" && ref.ExternalRecordID != c.externalID {
		c.externalID = ref.ExternalRecordID
		c.logg.Info(c.logg.WithField(ctx, "external_record_id", ref.ExternalRecordID), "wizard.external_record.adopted")
	}
}

// Retreat moves back one step without validating or persisting.
func (c *Controller) Retreat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardLocked(); err != nil {
		return err
	}
	if c.step > 1 {
		c.step--
	}
	return nil
}

// Resume replaces the in-memory flow with the draft stored under code. On
// any failure the current state is left untouched.
func (c *Controller) Resume(ctx context.Context, code string) error {
	normalized := intake.NormalizeCode(code)

	c.mu.Lock()
	if err := c.beginLocked(opResume); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	sess, err := c.fetch(ctx, normalized)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked()
	if err != nil {
		return err
	}
	if sess.Status == enums.DraftStatusSubmitted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "this intake has already been submitted").
			WithDetails(map[string]any{"code": normalized})
	}

	payload := sess.Payload.Clone()
	payload.Normalize()
	step := sess.Step
	if step < 1 {
		step = 1
	}
	if step > len(c.steps) {
		step = len(c.steps)
	}
	c.payload = payload
	c.step = step
	c.code = normalized
	if sess.Code != "" {
		c.code = intake.NormalizeCode(sess.Code)
	}
	c.externalID = sess.ExternalRecordID
	c.pendingSync = false
	c.uploading = noUpload
	c.uploadDropped = false
	c.logg.Info(c.logContext(ctx, c.code, step), "wizard.session.resumed")
	return nil
}

func (c *Controller) fetch(ctx context.Context, code string) (*Session, error) {
	if !intake.ValidCode(code) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no intake matches this code").
			WithDetails(map[string]any{"code": code})
	}
	sess, err := c.sessions.FetchByCode(ctx, code)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "fetch intake session")
	}
	if sess == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no intake matches this code").
			WithDetails(map[string]any{"code": code})
	}
	return sess, nil
}

// Submit finalizes the intake from the last step. It never retries; a
// failure leaves the draft untouched so the caller may submit again.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if err := c.beginLocked(opSubmit); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.step != len(c.steps) {
		step := c.step
		c.endLocked()
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "submit is only available on the final step").
			WithDetails(map[string]any{"step": step})
	}
	if res := intake.ValidateAll(c.steps, c.payload, c.policy); !res.Valid() {
		c.endLocked()
		c.mu.Unlock()
		return res.Err()
	}
	snapshot := c.payload.Clone()
	code, externalID := c.code, c.externalID
	step := c.step
	c.mu.Unlock()

	lctx := c.logContext(ctx, code, step)

	var created *SessionRef
	if code == "" {
		ref, err := c.sessions.Create(ctx, CreateRequest{
			Payload:      snapshot,
			Step:         step,
			ContactHints: snapshot.ContactHints(),
			Locale:       c.locale,
		})
		if err != nil {
			c.logg.WarnErr(lctx, "wizard.submit.create_draft.failed", err)
		} else {
			created = &ref
			code = ref.Code
			if externalID == "" {
				externalID = ref.ExternalRecordID
			}
			lctx = c.logg.WithCode(lctx, code)
		}
	}

	itemID, err := c.finalizer.Submit(ctx, Submission{
		Payload:          snapshot,
		Code:             code,
		ExternalRecordID: externalID,
		Locale:           c.locale,
	})
	if err == nil && itemID == "" {
		err = pkgerrors.New(pkgerrors.CodeFinalization, "finalization returned no record id")
	}
	if err != nil {
		c.mu.Lock()
		c.endLocked()
		if created != nil {
			c.adoptLocked(lctx, *created)
		}
		c.mu.Unlock()
		c.logg.Error(lctx, "wizard.submit.failed", err)
		if pkgerrors.IsCode(err, pkgerrors.CodeFinalization) {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeFinalization, err, "submit intake")
	}

	var reconcileErr error
	if code != "" {
		reconcileErr = c.sessions.Finalize(ctx, code, itemID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked()
	if created != nil {
		c.adoptLocked(lctx, *created)
	}
	c.externalID = itemID
	c.state = StateSucceeded
	switch {
	case code == "":
		c.pendingSync = true
		c.logg.Warn(lctx, "wizard.submit.no_draft_to_reconcile")
	case reconcileErr != nil:
		c.pendingSync = true
		c.logg.WarnErr(lctx, "wizard.submit.reconcile.failed", reconcileErr)
	default:
		c.pendingSync = false
	}
	c.logg.Info(c.logg.WithField(lctx, "item_id", itemID), "wizard.submit.succeeded")
	return nil
}
