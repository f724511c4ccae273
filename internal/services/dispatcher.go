package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"
	"forms-api/internal/telemetry"
	"forms-api/pkg/logging"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Skip reasons stored on SKIPPED log entries
const (
	skipNoSubmitterEmail   = "submitter email not provided"
	skipConfirmationOff    = "confirmation email disabled"
	skipDeveloperOff       = "developer notification disabled"
	skipNoDeveloperAddress = "no developer email address"
	skipNoWebhook          = "webhook not configured"
	skipUnsubscribed       = "submitter unsubscribed"
)

// DispatcherConfig holds the static settings of a Dispatcher
type DispatcherConfig struct {
	FromEmail      string
	FromName       string
	PublicBaseURL  string
	ChannelTimeout time.Duration
}

// Dispatcher fans a stored submission out to its notification channels.
// Channels run concurrently and independently; each outcome is stored as its
// own NotificationLog before Dispatch returns.
type Dispatcher struct {
	db       *gorm.DB
	mailer   Mailer
	webhooks *WebhookNotifier
	renderer Renderer
	cfg      DispatcherConfig
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(db *gorm.DB, mailer Mailer, webhooks *WebhookNotifier, renderer Renderer, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{db: db, mailer: mailer, webhooks: webhooks, renderer: renderer, cfg: cfg}
}

// dispatchTarget is the loaded context shared by all channels of one dispatch
type dispatchTarget struct {
	submission *models.Submission
	form       *models.Form
	settings   models.FormSettings
	ownerEmail string
}

func (d *Dispatcher) load(ctx context.Context, submissionID string) (*dispatchTarget, error) {
	var submission models.Submission
	if err := d.db.WithContext(ctx).First(&submission, "id = ?", submissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Submission not found")
		}
		return nil, apperrors.TransientStorage("failed to load submission", err)
	}

	var form models.Form
	if err := d.db.WithContext(ctx).First(&form, "id = ?", submission.FormID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Form not found")
		}
		return nil, apperrors.TransientStorage("failed to load form", err)
	}

	target := &dispatchTarget{submission: &submission, form: &form, settings: form.Settings.Data()}

	var owner models.User
	err := d.db.WithContext(ctx).Select("id", "email").First(&owner, "id = ?", form.UserID).Error
	switch {
	case err == nil:
		target.ownerEmail = owner.Email
	case errors.Is(err, gorm.ErrRecordNotFound):
		// The developer channel falls back to SKIPPED without an owner address
	default:
		return nil, apperrors.TransientStorage("failed to load form owner", err)
	}
	return target, nil
}

// Dispatch attempts every channel for a submission. A failing channel never
// makes Dispatch fail; it is recorded as FAILED. An error is returned only
// when the submission cannot be loaded or a log entry could not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, submissionID string) ([]models.NotificationLog, error) {
	// A disconnecting client must not leave PENDING rows behind
	ctx = context.WithoutCancel(ctx)

	target, err := d.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	logs := make([]models.NotificationLog, len(models.Channels))
	errs := make([]error, len(models.Channels))

	var wg sync.WaitGroup
	for i, channel := range models.Channels {
		wg.Add(1)
		go func(i int, channel string) {
			defer wg.Done()
			logs[i], errs[i] = d.runChannel(ctx, target, channel)
		}(i, channel)
	}
	wg.Wait()

	return logs, errors.Join(errs...)
}

// Redeliver attempts one channel again. A new log entry is appended; earlier
// entries are left as they are.
func (d *Dispatcher) Redeliver(ctx context.Context, submissionID, channel string) (*models.NotificationLog, error) {
	if !models.ValidChannel(channel) {
		return nil, apperrors.Validation("unknown channel")
	}
	ctx = context.WithoutCancel(ctx)

	target, err := d.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	log, err := d.runChannel(ctx, target, channel)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// Logs returns the notification history of a submission, oldest first
func (d *Dispatcher) Logs(ctx context.Context, submissionID string) ([]models.NotificationLog, error) {
	var logs []models.NotificationLog
	if err := d.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Find(&logs).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to load notification logs", err)
	}
	return logs, nil
}

// skipReason returns why channel cannot be attempted, or "" when it can
func (d *Dispatcher) skipReason(target *dispatchTarget, channel string) string {
	s := target.settings
	switch channel {
	case models.ChannelSubmissionConfirmation:
		if !s.Email.ConfirmationEnabled {
			return skipConfirmationOff
		}
		if target.submission.Email == "" {
			return skipNoSubmitterEmail
		}
		if target.submission.Unsubscribed {
			return skipUnsubscribed
		}
	case models.ChannelDeveloperNotification:
		if !s.Email.DeveloperNotificationEnabled {
			return skipDeveloperOff
		}
		if developerAddress(target) == "" {
			return skipNoDeveloperAddress
		}
	case models.ChannelWebhook:
		if s.Webhook.URL == "" {
			return skipNoWebhook
		}
	}
	return ""
}

func developerAddress(target *dispatchTarget) string {
	if target.settings.Email.DeveloperEmail != "" {
		return target.settings.Email.DeveloperEmail
	}
	return target.ownerEmail
}

// runChannel records and performs one channel attempt. The returned error is
// non-nil only when the log entry itself could not be stored.
func (d *Dispatcher) runChannel(ctx context.Context, target *dispatchTarget, channel string) (models.NotificationLog, error) {
	entry := models.NotificationLog{
		SubmissionID: target.submission.ID,
		Channel:      channel,
		Status:       models.NotificationPending,
	}

	if reason := d.skipReason(target, channel); reason != "" {
		entry.Status = models.NotificationSkipped
		entry.Error = reason
		telemetry.NotificationsTotal.WithLabelValues(channel, entry.Status).Inc()
		if err := d.db.WithContext(ctx).Create(&entry).Error; err != nil {
			return entry, apperrors.TransientStorage("failed to store notification log", err)
		}
		return entry, nil
	}

	if err := d.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return entry, apperrors.TransientStorage("failed to store notification log", err)
	}

	started := time.Now()
	sentEmailID, deliveryErr := d.deliver(ctx, target, channel)
	telemetry.NotificationDuration.WithLabelValues(channel).Observe(time.Since(started).Seconds())

	updates := map[string]interface{}{"status": models.NotificationSent}
	if sentEmailID != "" {
		entry.SentEmailID = &sentEmailID
		updates["sent_email_id"] = sentEmailID
	}
	if deliveryErr != nil {
		channelErr := apperrors.ChannelDelivery(channel, deliveryErr)
		updates["status"] = models.NotificationFailed
		updates["error"] = deliveryErr.Error()
		entry.Error = deliveryErr.Error()

		logging.WithFields(logrus.Fields{
			"submission_id": target.submission.ID,
			"form_id":       target.form.ID,
			"channel":       channel,
		}).Warnf("Notification failed: %v", deliveryErr)
		sentry.CaptureException(channelErr)
	}
	entry.Status = updates["status"].(string)
	telemetry.NotificationsTotal.WithLabelValues(channel, entry.Status).Inc()

	// PENDING moves to a terminal status exactly once
	if err := d.db.WithContext(ctx).Model(&models.NotificationLog{}).
		Where("id = ? AND status = ?", entry.ID, models.NotificationPending).
		Updates(updates).Error; err != nil {
		return entry, apperrors.TransientStorage("failed to finalize notification log", err)
	}
	return entry, nil
}

// deliver performs the channel's side effect within the channel timeout
func (d *Dispatcher) deliver(ctx context.Context, target *dispatchTarget, channel string) (string, error) {
	switch channel {
	case models.ChannelWebhook:
		payload := NewSubmissionPayload(target.form, target.submission)
		return "", d.withTimeout(ctx, func(ctx context.Context) error {
			return d.webhooks.Send(ctx, target.settings.Webhook, payload)
		})
	case models.ChannelSubmissionConfirmation:
		return d.deliverEmail(ctx, target, channel, target.submission.Email)
	case models.ChannelDeveloperNotification:
		return d.deliverEmail(ctx, target, channel, developerAddress(target))
	}
	return "", fmt.Errorf("unknown channel %s", channel)
}

// deliverEmail renders, records and sends one tracked email. The SentEmail
// row exists before sending so tracking requests always find it.
func (d *Dispatcher) deliverEmail(ctx context.Context, target *dispatchTarget, channel, recipient string) (string, error) {
	sentEmailID := uuid.NewString()
	links := TrackingLinks{BaseURL: d.cfg.PublicBaseURL, SentEmailID: sentEmailID}

	data := EmailData{
		Channel:        channel,
		FormName:       target.form.Name,
		FormType:       target.form.FormType,
		SubmissionID:   target.submission.ID,
		SubmitterEmail: target.submission.Email,
		Fields:         fieldsOf(target.submission.Data),
		PixelURL:       links.Pixel(),
	}
	if channel == models.ChannelSubmissionConfirmation {
		data.CustomSubject = target.settings.Email.ConfirmationSubject
		data.UnsubscribeURL = links.Unsubscribe(recipient, target.form.ID)
	}

	rendered, err := d.renderer.Render(data)
	if err != nil {
		return "", err
	}

	record := &models.SentEmail{
		FormID:       target.form.ID,
		SubmissionID: target.submission.ID,
		Channel:      channel,
		Recipient:    recipient,
		Subject:      rendered.Subject,
		Status:       models.SentEmailQueued,
	}
	record.ID = sentEmailID
	if err := d.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", fmt.Errorf("failed to record sent email: %w", err)
	}

	fromName := d.cfg.FromName
	if target.settings.Email.FromName != "" {
		fromName = target.settings.Email.FromName
	}
	email := Email{
		ToEmail:     recipient,
		FromEmail:   d.cfg.FromEmail,
		FromName:    fromName,
		Subject:     rendered.Subject,
		HTMLContent: rendered.HTML,
		TextContent: rendered.Text,
		Tags:        []string{channel, string(target.form.FormType)},
	}
	if channel == models.ChannelDeveloperNotification {
		email.ReplyTo = target.submission.Email
	}

	var messageID string
	sendErr := d.withTimeout(ctx, func(ctx context.Context) error {
		id, err := d.mailer.Send(ctx, email)
		messageID = id
		return err
	})

	// messageID is only safe to read once fn has returned without error
	updates := map[string]interface{}{"status": models.SentEmailFailed}
	if sendErr != nil {
		updates["bounce_reason"] = sendErr.Error()
	} else {
		updates["status"] = models.SentEmailSent
		updates["provider_message_id"] = messageID
	}
	if err := d.db.WithContext(ctx).Model(&models.SentEmail{}).Where("id = ?", sentEmailID).Updates(updates).Error; err != nil {
		logging.Errorf("Failed to update sent email %s: %v", sentEmailID, err)
	}
	return sentEmailID, sendErr
}

// withTimeout runs fn with the channel deadline. fn runs in its own goroutine
// so a provider that ignores its context still cannot stall the dispatch.
func (d *Dispatcher) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic during delivery: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timeout after %s", d.cfg.ChannelTimeout)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("timeout after %s", d.cfg.ChannelTimeout)
	}
}
