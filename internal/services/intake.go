package services

import (
	"context"
	"errors"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"
	"forms-api/internal/safego"
	"forms-api/internal/telemetry"
	"forms-api/pkg/logging"

	"github.com/sirupsen/logrus"
)

const analyticsTimeout = 5 * time.Second

// Submission outcomes reported to metrics
const (
	outcomeAccepted      = "accepted"
	outcomeReplayed      = "replayed"
	outcomeInvalidKey    = "invalid_key"
	outcomeNotFound      = "not_found"
	outcomeQuotaExceeded = "quota_exceeded"
	outcomeInvalid       = "invalid"
	outcomeConflict      = "conflict"
	outcomeError         = "error"
)

// SubmitRequest is one submission as received from the widget
type SubmitRequest struct {
	APIKey         string
	FormID         string
	Data           map[string]interface{}
	Email          string
	IdempotencyKey string
}

// IntakeService runs the submission pipeline: key validation, form lookup,
// quota check, form type resolution, storage, dispatch and analytics.
type IntakeService struct {
	keys        *APIKeyService
	forms       *FormService
	quotas      *QuotaService
	submissions *SubmissionService
	dispatcher  *Dispatcher
	analytics   Analytics
	idempotency IdempotencyStore
	now         func() time.Time
}

// IntakeOption customizes an IntakeService
type IntakeOption func(*IntakeService)

// WithAnalytics sets the analytics client
func WithAnalytics(a Analytics) IntakeOption {
	return func(s *IntakeService) { s.analytics = a }
}

// WithIdempotency enables Idempotency-Key handling
func WithIdempotency(store IdempotencyStore) IntakeOption {
	return func(s *IntakeService) { s.idempotency = store }
}

// WithClock overrides the clock used for quota periods
func WithClock(now func() time.Time) IntakeOption {
	return func(s *IntakeService) { s.now = now }
}

// NewIntakeService creates a new intake pipeline
func NewIntakeService(keys *APIKeyService, forms *FormService, quotas *QuotaService, submissions *SubmissionService, dispatcher *Dispatcher, opts ...IntakeOption) *IntakeService {
	s := &IntakeService{
		keys:        keys,
		forms:       forms,
		quotas:      quotas,
		submissions: submissions,
		dispatcher:  dispatcher,
		analytics:   NopAnalytics{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate validates an API key and returns the owner's user id
func (s *IntakeService) Authenticate(ctx context.Context, apiKey string) (KeyValidation, error) {
	result, err := s.keys.Validate(ctx, apiKey)
	if err != nil {
		return KeyValidation{}, err
	}
	if !result.Valid {
		return KeyValidation{}, apperrors.Auth("Invalid API key")
	}
	return result, nil
}

// Submit accepts one submission. The submitter only ever sees the outcome of
// storage; notification failures are recorded on the notification log.
func (s *IntakeService) Submit(ctx context.Context, req SubmitRequest) (*models.Submission, error) {
	submission, outcome, err := s.submit(ctx, req)
	telemetry.SubmissionsTotal.WithLabelValues(outcome).Inc()
	return submission, err
}

func (s *IntakeService) submit(ctx context.Context, req SubmitRequest) (*models.Submission, string, error) {
	if req.APIKey == "" {
		return nil, outcomeInvalidKey, apperrors.Auth("API key is required")
	}
	key, err := s.Authenticate(ctx, req.APIKey)
	if err != nil {
		return nil, outcomeFor(err), err
	}

	if req.FormID == "" {
		return nil, outcomeInvalid, apperrors.Validation("formId is required")
	}
	if err := s.submissions.ValidatePayload(req.Data, req.Email); err != nil {
		return nil, outcomeInvalid, err
	}

	form, err := s.forms.GetOwned(ctx, key.OwnerUserID, req.FormID)
	if err != nil {
		return nil, outcomeFor(err), err
	}

	if s.idempotency != nil && req.IdempotencyKey != "" {
		existingID, err := s.idempotency.Claim(ctx, key.KeyID, req.IdempotencyKey)
		switch {
		case errors.Is(err, ErrIdempotencyInFlight):
			return nil, outcomeConflict, apperrors.Conflict("A request with this Idempotency-Key is already in progress")
		case err != nil:
			// Redis trouble must not block intake
			logging.Warnf("Idempotency check skipped: %v", err)
		case existingID != "":
			existing, err := s.submissions.Get(ctx, existingID)
			if err != nil {
				return nil, outcomeFor(err), err
			}
			return existing, outcomeReplayed, nil
		}
	}

	submission, err := s.store(ctx, key, form, req)
	if s.idempotency != nil && req.IdempotencyKey != "" {
		s.finishIdempotency(ctx, key.KeyID, req.IdempotencyKey, submission, err)
	}
	if err != nil {
		return nil, outcomeFor(err), err
	}
	return submission, outcomeAccepted, nil
}

// store runs quota, type resolution, persistence and dispatch
func (s *IntakeService) store(ctx context.Context, key KeyValidation, form *models.Form, req SubmitRequest) (*models.Submission, error) {
	now := s.now()
	year, month := Period(now)

	decision, err := s.quotas.CheckAndReserve(ctx, form.UserID, year, month)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, apperrors.QuotaExceeded("Monthly submission limit reached for this plan")
	}

	if _, err := s.forms.EnsureFormType(ctx, form); err != nil {
		return nil, err
	}

	submission, err := s.submissions.Create(ctx, form, req.Data, req.Email, now)
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{"submission_id": submission.ID, "form_id": form.ID}
	logs, err := s.dispatcher.Dispatch(ctx, submission.ID)
	if err != nil {
		// The submission is stored; notification trouble is an operator concern
		logging.WithFields(fields).Errorf("Dispatch incomplete: %v", err)
	}
	submission.NotificationLogs = logs

	s.capture(key, form, submission, decision)
	return submission, nil
}

func (s *IntakeService) finishIdempotency(ctx context.Context, scope, idemKey string, submission *models.Submission, err error) {
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		if relErr := s.idempotency.Release(ctx, scope, idemKey); relErr != nil {
			logging.Warnf("Failed to release idempotency key: %v", relErr)
		}
		return
	}
	if cErr := s.idempotency.Complete(ctx, scope, idemKey, submission.ID); cErr != nil {
		logging.Warnf("Failed to complete idempotency key: %v", cErr)
	}
}

// capture sends the analytics event in the background
func (s *IntakeService) capture(key KeyValidation, form *models.Form, submission *models.Submission, decision QuotaDecision) {
	event := AnalyticsEvent{
		Name:       "submission_created",
		DistinctID: form.UserID,
		Timestamp:  submission.CreatedAt,
		Properties: map[string]interface{}{
			"form_id":         form.ID,
			"form_type":       string(form.FormType),
			"submission_id":   submission.ID,
			"api_key_id":      key.KeyID,
			"has_email":       submission.Email != "",
			"quota_remaining": decision.Remaining - 1,
		},
	}
	safego.Go("analytics", func() {
		ctx, cancel := context.WithTimeout(context.Background(), analyticsTimeout)
		defer cancel()
		if err := s.analytics.Capture(ctx, event); err != nil {
			logging.Warnf("Analytics capture failed - event: %s, error: %v", event.Name, err)
		}
	})
}

func outcomeFor(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindAuth:
		return outcomeInvalidKey
	case apperrors.KindNotFound:
		return outcomeNotFound
	case apperrors.KindQuotaExceeded:
		return outcomeQuotaExceeded
	case apperrors.KindValidation:
		return outcomeInvalid
	case apperrors.KindConflict:
		return outcomeConflict
	}
	return outcomeError
}
