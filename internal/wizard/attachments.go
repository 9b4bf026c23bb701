package wizard

import (
	"context"
	"fmt"
	"strings"

	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

func attachmentError(index int, err error, msg string) error {
	details := map[string]any{"index": index}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAttachment, err, msg).WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodeAttachment, msg).WithDetails(details)
}

// Attach uploads file for the participant at index. Only one upload runs at
// a time; the busy index is cleared whatever the outcome, and a failed upload
// leaves the payload unchanged.
func (c *Controller) Attach(ctx context.Context, index int, file File) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.payload.Participants) {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("participant %d does not exist", index+1)).
			WithDetails(map[string]any{"index": index})
	}
	if err := c.beginLocked(opAttach); err != nil {
		c.mu.Unlock()
		return err
	}
	c.uploading = index
	c.uploadDropped = false
	owner := c.ownerLabelLocked(index)
	code, step := c.code, c.step
	c.mu.Unlock()

	upload, err := c.attachments.Upload(ctx, owner, file)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked()
	dropped := c.uploadDropped
	c.uploading = noUpload
	c.uploadDropped = false

	lctx := c.logg.WithField(c.logContext(ctx, code, step), "participant_index", index)
	if err != nil {
		c.logg.WarnErr(lctx, "wizard.attach.failed", err)
		return attachmentError(index, err, "upload attachment")
	}
	if upload == nil || len(upload.URLs) == 0 || strings.TrimSpace(upload.URLs[0]) == "" {
		return attachmentError(index, nil, "upload returned no reference")
	}
	if dropped || index >= len(c.payload.Participants) {
		c.logg.Warn(lctx, "wizard.attach.participant_removed")
		return attachmentError(index, nil, "participant removed during upload")
	}
	label := upload.FileName
	if label == "" {
		label = file.Name
	}
	if err := c.payload.SetParticipantAttachment(index, upload.URLs[0], label); err != nil {
		return attachmentError(index, err, "store attachment")
	}
	c.logg.Info(lctx, "wizard.attach.succeeded")
	return nil
}

// Detach clears the attachment of the participant at index.
func (c *Controller) Detach(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSucceeded {
		return succeededError()
	}
	if c.uploading == index {
		return inFlightError(opAttach)
	}
	return c.payload.ClearParticipantAttachment(index)
}

func (c *Controller) ownerLabelLocked(index int) string {
	if name := strings.TrimSpace(c.payload.Participants[index].Name); name != "" {
		return name
	}
	if name := strings.TrimSpace(c.payload.Contact.FullName); name != "" {
		return fmt.Sprintf("%s participant-%d", name, index+1)
	}
	return fmt.Sprintf("participant-%d", index+1)
}
