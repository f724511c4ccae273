package services

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultPageSize is used when a listing request does not specify a limit
const DefaultPageSize = 50

// maxPageSize caps listing requests
const maxPageSize = 500

// exportBatchSize is the number of rows read per batch during CSV export
const exportBatchSize = 500

// Page selects a window of a listing
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SubmissionService persists submissions and reads them back
type SubmissionService struct {
	db              *gorm.DB
	quotas          *QuotaService
	maxPayloadBytes int
}

// NewSubmissionService creates a new submission service
func NewSubmissionService(db *gorm.DB, quotas *QuotaService, maxPayloadBytes int) *SubmissionService {
	return &SubmissionService{db: db, quotas: quotas, maxPayloadBytes: maxPayloadBytes}
}

// ValidatePayload checks the payload size and the optional submitter email
func (s *SubmissionService) ValidatePayload(payload map[string]interface{}, email string) error {
	if payload == nil {
		return apperrors.Validation("data must be a JSON object")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Validation("data is not serializable")
	}
	if len(encoded) > s.maxPayloadBytes {
		return apperrors.Validation(fmt.Sprintf("data exceeds %d bytes", s.maxPayloadBytes))
	}
	if email != "" {
		if _, err := NormalizeEmail(email); err != nil {
			return apperrors.Validation("email is not a valid email address")
		}
	}
	return nil
}

// NormalizeEmail parses raw and returns the bare, lower-cased address.
// Display names like "Ada <ada@example.com>" are dropped.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}

// Create stores a submission for form and counts it against the owner's
// quota for the period of now, in one transaction. It does not notify.
func (s *SubmissionService) Create(ctx context.Context, form *models.Form, payload map[string]interface{}, email string, now time.Time) (*models.Submission, error) {
	email = strings.TrimSpace(email)
	if err := s.ValidatePayload(payload, email); err != nil {
		return nil, err
	}
	if email != "" {
		normalized, err := NormalizeEmail(email)
		if err != nil {
			return nil, apperrors.Validation("email is not a valid email address")
		}
		email = normalized
	}

	submission := &models.Submission{
		FormID:    form.ID,
		Data:      datatypes.JSONMap(payload),
		Email:     email,
		CreatedAt: now.UTC(),
	}
	year, month := Period(now)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if email != "" {
			// Submitters who opted out of this form stay opted out
			opted, err := optedOut(tx, email, form.ID)
			if err != nil {
				return err
			}
			submission.Unsubscribed = opted
		}
		if err := tx.Create(submission).Error; err != nil {
			return err
		}
		return s.quotas.Consume(tx, form.UserID, year, month)
	})
	if err != nil {
		return nil, apperrors.TransientStorage("failed to store submission", err)
	}
	return submission, nil
}

// Get loads a submission by id
func (s *SubmissionService) Get(ctx context.Context, submissionID string) (*models.Submission, error) {
	var submission models.Submission
	if err := s.db.WithContext(ctx).First(&submission, "id = ?", submissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Submission not found")
		}
		return nil, apperrors.TransientStorage("failed to load submission", err)
	}
	return &submission, nil
}

// GetOwned loads a submission whose form belongs to userID
func (s *SubmissionService) GetOwned(ctx context.Context, userID, submissionID string) (*models.Submission, error) {
	var submission models.Submission
	err := s.db.WithContext(ctx).
		Joins("JOIN form ON form.id = submission.form_id").
		Where("submission.id = ? AND form.user_id = ?", submissionID, userID).
		First(&submission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Submission not found")
		}
		return nil, apperrors.TransientStorage("failed to load submission", err)
	}
	return &submission, nil
}

// List returns a page of a form's submissions, newest first, with the total
func (s *SubmissionService) List(ctx context.Context, formID string, page Page) ([]models.Submission, int64, error) {
	page = page.normalize()

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("form_id = ?", formID).
		Count(&total).Error; err != nil {
		return nil, 0, apperrors.TransientStorage("failed to count submissions", err)
	}

	var submissions []models.Submission
	if err := s.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("created_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&submissions).Error; err != nil {
		return nil, 0, apperrors.TransientStorage("failed to list submissions", err)
	}
	return submissions, total, nil
}

// ExportCSV writes every submission of a form as CSV. Fixed columns come
// first, followed by the sorted union of payload keys. Rows are read in
// batches, once to collect the columns and once to write them. Both passes
// share one transaction and the second stops at the newest row the first
// one saw, so submissions arriving mid-export are left out whole.
func (s *SubmissionService) ExportCSV(ctx context.Context, w io.Writer, formID string) error {
	snapshot := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keySet := map[string]struct{}{}
		var newest time.Time
		err := eachBatch(tx, formID, time.Time{}, func(batch []models.Submission) error {
			for _, sub := range batch {
				for k := range sub.Data {
					keySet[k] = struct{}{}
				}
				if sub.CreatedAt.After(newest) {
					newest = sub.CreatedAt
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		cw := csv.NewWriter(w)
		header := append([]string{"id", "email", "created_at", "unsubscribed"}, keys...)
		if err := cw.Write(header); err != nil {
			return err
		}
		if newest.IsZero() {
			cw.Flush()
			return cw.Error()
		}

		err = eachBatch(tx, formID, newest, func(batch []models.Submission) error {
			for _, sub := range batch {
				row := []string{
					sub.ID,
					escapeFormula(sub.Email),
					sub.CreatedAt.UTC().Format(time.RFC3339),
					strconv.FormatBool(sub.Unsubscribed),
				}
				for _, k := range keys {
					row = append(row, exportCell(sub.Data[k]))
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		cw.Flush()
		return cw.Error()
	}, snapshot)
}

// eachBatch walks a form's submissions oldest first. A non-zero until skips
// rows created after it.
func eachBatch(tx *gorm.DB, formID string, until time.Time, fn func([]models.Submission) error) error {
	for offset := 0; ; offset += exportBatchSize {
		q := tx.Where("form_id = ?", formID)
		if !until.IsZero() {
			q = q.Where("created_at <= ?", until.UTC())
		}
		var batch []models.Submission
		if err := q.Order("created_at ASC, id ASC").
			Limit(exportBatchSize).
			Offset(offset).
			Find(&batch).Error; err != nil {
			return apperrors.TransientStorage("failed to read submissions", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < exportBatchSize {
			return nil
		}
	}
}

// exportCell renders a payload value for a spreadsheet. Strings that a
// spreadsheet would evaluate as a formula are quoted.
func exportCell(v interface{}) string {
	if str, ok := v.(string); ok {
		return escapeFormula(str)
	}
	return csvCell(v)
}

func escapeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// csvCell renders one payload value. Scalars are printed as-is, nested
// values as compact JSON.
func csvCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool, float64, int, int64, json.Number:
		return fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
