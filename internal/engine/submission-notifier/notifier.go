// internal/engine/submission-notifier/notifier.go
package submissionnotifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"enrollment-sync/internal/common/auth"
	awsclient "enrollment-sync/internal/common/aws"
	"enrollment-sync/internal/common/camunda"
	"enrollment-sync/internal/common/logger"
	"enrollment-sync/internal/common/metrics"
	"enrollment-sync/internal/common/zoho"
	"enrollment-sync/internal/models"
)

const DefaultMessageName = "enrollment-submitted"

var ErrNotificationSendFailed = errors.New("NOTIFICATION_SEND_FAILED")

type EmailSender interface {
	SendEmail(ctx context.Context, email awsclient.Email) (string, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, message string) (string, error)
}

type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg camunda.Message) (int64, error)
}

type ContactRecorder interface {
	RecordContact(ctx context.Context, contact zoho.Contact) (string, error)
}

// Submission describes a successfully submitted application.
type Submission struct {
	ApplicationID string
	Guardian      auth.Identity
	Record        models.ApplicationRecord
	SubmittedAt   time.Time
}

type Config struct {
	MessageName string
	MessageTTL  time.Duration
	Timeout     time.Duration
}

// Notifier tells the guardian and the admissions workflow about a submission.
// Every channel is optional; a nil sender is skipped.
type Notifier struct {
	email     EmailSender
	sms       SMSSender
	publisher MessagePublisher
	crm       ContactRecorder
	cfg       Config
	logger    logger.Logger
}

func New(email EmailSender, sms SMSSender, publisher MessagePublisher, cfg Config, log logger.Logger) *Notifier {
	if cfg.MessageName == "" {
		cfg.MessageName = DefaultMessageName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Notifier{
		email:     email,
		sms:       sms,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.ForComponent(log, "submission-notifier"),
	}
}

// WithCRM also records the guardian as a CRM contact on every submission.
func (n *Notifier) WithCRM(crm ContactRecorder) *Notifier {
	n.crm = crm
	return n
}

// Notify sends all notifications concurrently. One failing channel does not
// stop the others; the returned error joins every failure.
func (n *Notifier) Notify(ctx context.Context, sub Submission) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	data := templateData(sub)
	var g errgroup.Group
	errs := make([]error, 4)

	if n.email != nil {
		g.Go(func() error {
			errs[0] = n.sendEmail(ctx, sub, data)
			return nil
		})
	}
	if n.sms != nil {
		g.Go(func() error {
			errs[1] = n.sendSMS(ctx, sub, data)
			return nil
		})
	}
	if n.publisher != nil {
		g.Go(func() error {
			errs[2] = n.publish(ctx, sub)
			return nil
		})
	}
	if n.crm != nil {
		g.Go(func() error {
			errs[3] = n.recordContact(ctx, sub)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (n *Notifier) sendEmail(ctx context.Context, sub Submission, data map[string]interface{}) error {
	to := recipientEmail(sub)
	if to == "" {
		n.record("email", "skipped")
		return nil
	}

	id, err := n.email.SendEmail(ctx, awsclient.Email{
		To:      to,
		Subject: renderTemplate(emailSubject, data),
		Text:    renderTemplate(emailBody, data),
	})
	if err != nil {
		n.record("email", "error")
		n.logger.Error("confirmation email failed", map[string]interface{}{
			"applicationId": sub.ApplicationID,
			"error":         err,
		})
		return fmt.Errorf("%w: email: %v", ErrNotificationSendFailed, err)
	}
	n.record("email", "sent")
	n.logger.Info("confirmation email sent", map[string]interface{}{
		"applicationId": sub.ApplicationID,
		"messageId":     id,
	})
	return nil
}

func (n *Notifier) sendSMS(ctx context.Context, sub Submission, data map[string]interface{}) error {
	to := recipientMobile(sub)
	if to == "" {
		n.record("sms", "skipped")
		return nil
	}

	if _, err := n.sms.SendSMS(ctx, to, renderTemplate(smsBody, data)); err != nil {
		n.record("sms", "error")
		n.logger.Error("confirmation sms failed", map[string]interface{}{
			"applicationId": sub.ApplicationID,
			"error":         err,
		})
		return fmt.Errorf("%w: sms: %v", ErrNotificationSendFailed, err)
	}
	n.record("sms", "sent")
	return nil
}

func (n *Notifier) publish(ctx context.Context, sub Submission) error {
	vars := map[string]interface{}{
		"applicationId": sub.ApplicationID,
		"guardianEmail": recipientEmail(sub),
		"submittedAt":   sub.SubmittedAt.UTC().Format(time.RFC3339),
	}
	if sub.Record.Student != nil {
		vars["gradeAppliedFor"] = sub.Record.Student.GradeAppliedFor
	}
	if sub.Record.Financing != nil {
		vars["financingPlan"] = sub.Record.Financing.Plan
	}

	key, err := n.publisher.PublishMessage(ctx, camunda.Message{
		Name:           n.cfg.MessageName,
		CorrelationKey: sub.ApplicationID,
		MessageID:      sub.ApplicationID,
		TTL:            n.cfg.MessageTTL,
		Variables:      vars,
	})
	if err != nil {
		n.record("workflow", "error")
		n.logger.Error("admissions message failed", map[string]interface{}{
			"applicationId": sub.ApplicationID,
			"error":         err,
		})
		return fmt.Errorf("%w: workflow: %v", ErrNotificationSendFailed, err)
	}
	n.record("workflow", "sent")
	n.logger.Info("admissions message published", map[string]interface{}{
		"applicationId": sub.ApplicationID,
		"messageKey":    key,
	})
	return nil
}

func (n *Notifier) recordContact(ctx context.Context, sub Submission) error {
	first, last := splitName(sub.Guardian.Name)
	contact := zoho.Contact{
		Email:         recipientEmail(sub),
		FirstName:     first,
		LastName:      last,
		Phone:         recipientMobile(sub),
		Source:        "Online Enrollment",
		ApplicationID: sub.ApplicationID,
	}
	if s := sub.Record.Student; s != nil {
		contact.Description = fmt.Sprintf("Applied for %s: %s %s", s.GradeAppliedFor, s.FirstName, s.Surname)
	}

	id, err := n.crm.RecordContact(ctx, contact)
	if err != nil {
		n.record("crm", "error")
		n.logger.Error("crm contact failed", map[string]interface{}{
			"applicationId": sub.ApplicationID,
			"error":         err,
		})
		return fmt.Errorf("%w: crm: %v", ErrNotificationSendFailed, err)
	}
	n.record("crm", "sent")
	n.logger.Info("crm contact recorded", map[string]interface{}{
		"applicationId": sub.ApplicationID,
		"contactId":     id,
	})
	return nil
}

// splitName treats the last word as the surname. The CRM requires one.
func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", "Guardian"
	case 1:
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func (n *Notifier) record(channel, result string) {
	metrics.NotificationsSent.WithLabelValues(channel, result).Inc()
}

func recipientEmail(sub Submission) string {
	if sub.Guardian.Email != "" {
		return sub.Guardian.Email
	}
	if f := sub.Record.Family; f != nil {
		for _, e := range []string{f.MotherEmail, f.FatherEmail, f.NextOfKinEmail} {
			if e != "" {
				return e
			}
		}
	}
	return ""
}

func recipientMobile(sub Submission) string {
	if sub.Guardian.Mobile != "" {
		return sub.Guardian.Mobile
	}
	if f := sub.Record.Family; f != nil {
		for _, m := range []string{f.MotherMobile, f.FatherMobile, f.NextOfKinMobile} {
			if m != "" {
				return m
			}
		}
	}
	return ""
}

const (
	emailSubject = "Application {{applicationId}} received"
	emailBody    = "Dear {{guardianName}},\n\n" +
		"We have received the enrollment application for {{studentName}} ({{gradeAppliedFor}}).\n" +
		"Your reference number is {{applicationId}}. Our admissions team will be in touch.\n"
	smsBody = "Enrollment application {{applicationId}} for {{studentName}} received. Admissions will contact you."
)

func templateData(sub Submission) map[string]interface{} {
	data := map[string]interface{}{
		"applicationId": sub.ApplicationID,
		"guardianName":  sub.Guardian.Name,
	}
	if data["guardianName"] == "" {
		data["guardianName"] = "Parent/Guardian"
	}
	if s := sub.Record.Student; s != nil {
		data["studentName"] = strings.TrimSpace(s.FirstName + " " + s.Surname)
		data["gradeAppliedFor"] = s.GradeAppliedFor
	}
	return data
}

// renderTemplate replaces {{key}} placeholders and drops unknown ones.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}
