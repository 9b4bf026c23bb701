package wizard

import (
	"github.com/angelmondragon/intake-backend/internal/intake"
)

// Step returns the active step, 1-based.
func (c *Controller) Step() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

func (c *Controller) StepCount() int {
	return len(c.steps)
}

// StepID returns the identifier of the active step.
func (c *Controller) StepID() intake.StepID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps[c.step-1].ID
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Code returns the resume code, or "" before a session has been created.
func (c *Controller) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Controller) HasSession() bool {
	return c.Code() != ""
}

// ExternalRecordID returns the CRM record id once known.
func (c *Controller) ExternalRecordID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.externalID
}

// Payload returns a copy of the current form state.
func (c *Controller) Payload() intake.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload.Clone()
}

// PendingSync reports whether the last persistence call failed.
func (c *Controller) PendingSync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSync
}

// UploadingIndex returns the participant index with an upload in flight, or -1.
func (c *Controller) UploadingIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

// Busy reports whether a network-bound operation is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != opNone
}

func (c *Controller) Locale() string {
	return c.locale
}

// Validate evaluates the active step.
func (c *Controller) Validate() intake.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps[c.step-1].Validate(c.payload, c.policy)
}
