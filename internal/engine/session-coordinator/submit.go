// internal/engine/session-coordinator/submit.go
package sessioncoordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/metrics"
	eventbus "enrollment-sync/internal/engine/event-bus"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	submissionnotifier "enrollment-sync/internal/engine/submission-notifier"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

// stepSubmissions are the steps with a dedicated submit endpoint.
var stepSubmissions = map[int]models.SectionName{
	models.StepAcademicHistory: models.SectionAcademicHistory,
	models.StepFeeAgreement:    models.SectionFinancing,
	models.StepDeclaration:     models.SectionDeclaration,
}

// CompleteStep validates step, flushes pending edits, submits the step's
// section when it has its own endpoint and then moves on. It returns the new
// active step. Nothing is marked complete when any of that fails.
func (c *Coordinator) CompleteStep(ctx context.Context, step int) (int, error) {
	if state := c.steps.State(); state.Submitted {
		return 0, c.fail("complete_step", submittedError(step))
	}

	snapshot := c.workspace.Snapshot()
	result := c.validator.ValidateStep(step, snapshot)
	if !result.IsComplete {
		return 0, c.fail("complete_step", apperrors.NewValidationFailedError(models.StepTitles[step], result.Errors))
	}

	// The flush keeps the remote copy ahead of any per-step submit. A failed
	// save stays pending and is retried with the next edit. Without an
	// application id or valid credentials the step cannot complete.
	if err := c.autosave.Flush(ctx); err != nil {
		if errors.Is(err, apperrors.ErrAuthenticationExpired) || errors.Is(err, apperrors.ErrIdentityUnavailable) {
			return 0, err
		}
		c.logger.Warn("continuing step completion after failed save", map[string]interface{}{
			"step":  step,
			"error": err,
		})
	}

	if section, ok := stepSubmissions[step]; ok {
		if err := c.submitSection(ctx, section, snapshot); err != nil {
			return 0, c.fail("submit_"+string(section), err)
		}
	}

	next, err := c.steps.Finish(ctx, step)
	if err != nil {
		return 0, c.fail("complete_step", err)
	}
	return next, nil
}

func (c *Coordinator) submitSection(ctx context.Context, section models.SectionName, rec models.ApplicationRecord) error {
	id, err := c.identity.EnsureIdentity(ctx)
	if err != nil {
		return err
	}
	payload, err := sectionPayload(section, rec, c.now())
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	start := time.Now()
	err = c.gateway.SubmitSection(ctx, id, section, payload)
	metrics.SubmissionDuration.WithLabelValues(string(section)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(section), "failure").Inc()
		return submitError(err)
	}
	metrics.SubmissionsTotal.WithLabelValues(string(section), "success").Inc()
	c.logger.Info("section submitted", map[string]interface{}{
		"applicationId": id,
		"section":       string(section),
	})
	return nil
}

// sectionPayload builds the body of a per-step submit in remote naming.
func sectionPayload(section models.SectionName, rec models.ApplicationRecord, now time.Time) (fieldtransformer.Document, error) {
	switch section {
	case models.SectionFinancing:
		if rec.Financing == nil {
			return nil, fmt.Errorf("no financing plan selected")
		}
		return fieldtransformer.Document{"plan_type": rec.Financing.Plan}, nil

	case models.SectionDeclaration:
		only := rec.Only(models.SectionDeclaration).Clone()
		if only.Declaration == nil {
			return nil, fmt.Errorf("no declaration")
		}
		only.Declaration.Status = models.DeclarationCompleted
		if only.Declaration.SignedAt == "" {
			only.Declaration.SignedAt = now.UTC().Format(time.RFC3339)
		}
		return fieldtransformer.ForwardSection(only, section)
	}
	return fieldtransformer.ForwardSection(rec, section)
}

// Submit sends the whole application. On success the wizard becomes read-only,
// application.submitted is published and the notifier runs in the background.
func (c *Coordinator) Submit(ctx context.Context) (string, error) {
	if state := c.steps.State(); state.Submitted {
		return "", c.fail("submit", submittedError(models.StepReviewSubmit))
	}

	snapshot := c.workspace.Snapshot()
	result := c.validator.ValidateStep(models.StepReviewSubmit, snapshot)
	if !result.IsComplete {
		return "", c.fail("submit", apperrors.NewValidationFailedError(models.StepTitles[models.StepReviewSubmit], result.Errors))
	}

	if err := c.autosave.Flush(ctx); err != nil && errors.Is(err, apperrors.ErrAuthenticationExpired) {
		return "", err
	}

	id, err := c.identity.EnsureIdentity(ctx)
	if err != nil {
		return "", c.fail("submit", err)
	}
	doc, err := fieldtransformer.Forward(snapshot)
	if err != nil {
		return "", c.fail("submit", apperrors.NewInternalError(err))
	}
	doc = fieldtransformer.Sanitize(doc)

	start := time.Now()
	err = c.gateway.SubmitFullApplication(ctx, id, doc)
	metrics.SubmissionDuration.WithLabelValues("application").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("application", "failure").Inc()
		return "", c.fail("submit", submitError(err))
	}
	metrics.SubmissionsTotal.WithLabelValues("application", "success").Inc()

	c.workspace.SetStatus(models.StatusSubmitted)
	c.steps.MarkSubmitted(ctx)
	c.bus.Publish(eventbus.ApplicationSubmitted, id)
	c.logger.Info("application submitted", map[string]interface{}{"applicationId": id})

	c.notify(id, snapshot)
	return id, nil
}

func (c *Coordinator) notify(id string, rec models.ApplicationRecord) {
	if c.notifier == nil {
		return
	}
	sub := submissionnotifier.Submission{
		ApplicationID: id,
		Record:        rec,
		SubmittedAt:   c.now(),
	}
	if c.auth != nil {
		sub.Guardian, _ = c.auth.CurrentIdentity()
	}

	c.notifications.Add(1)
	go func() {
		defer c.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, sub); err != nil {
			c.logger.Warn("submission notifications incomplete", map[string]interface{}{
				"applicationId": id,
				"error":         err,
			})
		}
	}()
}

// WaitForNotifications blocks until background submission notifications finish.
func (c *Coordinator) WaitForNotifications() {
	c.notifications.Wait()
}

// AttachDocument uploads a file for the application and appends its descriptor
// to the documents section. Uploads are never retried.
func (c *Coordinator) AttachDocument(ctx context.Context, upload gateway.Upload) (models.Document, error) {
	if state := c.steps.State(); state.Submitted {
		return models.Document{}, c.fail("upload", submittedError(models.StepDocuments))
	}
	epoch := c.currentEpoch()

	id, err := c.identity.EnsureIdentity(ctx)
	if err != nil {
		return models.Document{}, c.fail("upload", err)
	}
	upload.ApplicationID = id

	doc, err := c.gateway.UploadFile(ctx, upload)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			return models.Document{}, c.fail("upload", apperrors.NewAuthenticationExpiredError(err))
		}
		stdErr := apperrors.NewUploadFailedError(err)
		if reason := gateway.ReasonOf(err); reason != "" {
			stdErr.Message = reason
		}
		return models.Document{}, c.fail("upload", stdErr)
	}
	if doc.Category == "" {
		if category, ok := models.CategoryFor(doc); ok {
			doc.Category = category.Key
		}
	}

	err = c.applyEdit(ctx, "upload", epoch, models.SectionDocuments, func(rec *models.ApplicationRecord) error {
		rec.Documents = append(rec.Documents, doc)
		return nil
	})
	if err != nil {
		return models.Document{}, err
	}
	return doc, nil
}

// RemoveDocument drops a descriptor from the documents section. The stored file is left alone.
func (c *Coordinator) RemoveDocument(ctx context.Context, documentID string) error {
	_, err := c.Edit(ctx, models.SectionDocuments, func(rec *models.ApplicationRecord) error {
		kept := rec.Documents[:0:0]
		found := false
		for _, d := range rec.Documents {
			if d.ID == documentID {
				found = true
				continue
			}
			kept = append(kept, d)
		}
		if !found {
			return fmt.Errorf("document %s not attached", documentID)
		}
		rec.Documents = kept
		return nil
	})
	return err
}

// submitError maps a gateway failure of a non-idempotent call.
func submitError(err error) error {
	var stdErr *apperrors.StandardError
	switch {
	case errors.As(err, &stdErr):
		return err
	case errors.Is(err, gateway.ErrUnauthorized):
		return apperrors.NewAuthenticationExpiredError(err)
	}
	return apperrors.NewSubmitFailedError(gateway.ReasonOf(err), err)
}
