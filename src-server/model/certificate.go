package model

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Certificate struct {
	bun.BaseModel `bun:"table:certificates,alias:certificate"`

	ID       string `bun:"id,pk"                                         json:"id"`
	EventID  string `bun:"event_id,notnull,unique:certificate_event_user" json:"event_id"`
	UserID   string `bun:"user_id,notnull,unique:certificate_event_user"  json:"user_id"`
	Code     string `bun:"code,notnull,unique"                           json:"code"`
	IssuedAt int64  `bun:"issued_at,notnull"                             json:"issued_at"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
	User  *User  `bun:"rel:belongs-to,join:user_id=id"  json:"user,omitempty"`
}

// Crockford-ish alphabet, no 0/O or 1/I.
const certificateCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

func newCertificateCode() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, c := range b {
		if i == 5 {
			sb.WriteByte('-')
		}
		sb.WriteByte(certificateCodeAlphabet[int(c)%len(certificateCodeAlphabet)])
	}
	return sb.String(), nil
}

type Eligibility struct {
	Attended        bool `json:"attended"`
	SurveyCompleted bool `json:"survey_completed"`
	EventEnded      bool `json:"event_ended"`
	Eligible        bool `json:"eligible"`
}

// An event without a survey counts as survey completed.
func CheckEligibility(ctx context.Context, db bun.IDB, event *Event, userID string, now time.Time) (*Eligibility, error) {
	attended, err := HasAttended(ctx, db, event.ID, userID)
	if err != nil {
		return nil, err
	}
	surveyCompleted := true
	survey, err := GetSurvey(ctx, db, event.ID)
	switch {
	case err == nil:
		if surveyCompleted, err = HasResponded(ctx, db, survey.ID, userID); err != nil {
			return nil, err
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	eligibility := &Eligibility{
		Attended:        attended,
		SurveyCompleted: surveyCompleted,
		EventEnded:      event.HasEnded(now),
	}
	eligibility.Eligible = eligibility.Attended && eligibility.SurveyCompleted && eligibility.EventEnded
	return eligibility, nil
}

func findCertificate(ctx context.Context, db bun.IDB, eventID, userID string) (*Certificate, error) {
	certificate := new(Certificate)
	if err := db.NewSelect().
		Model(certificate).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certificate %w", ErrNotFound)
		}
		return nil, err
	}
	return certificate, nil
}

// Returns the existing certificate or issues a new one when the user is
// eligible. The bool reports whether a new one was created. Concurrent calls
// for the same user all get the one stored certificate.
func IssueCertificate(ctx context.Context, tx bun.IDB, event *Event, userID string) (*Certificate, bool, error) {
	existing, err := findCertificate(ctx, tx, event.ID, userID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("IssueCertificate: %w", err)
	}

	eligibility, err := CheckEligibility(ctx, tx, event, userID, time.Now())
	if err != nil {
		return nil, false, err
	}
	if !eligibility.Eligible {
		return nil, false, ErrNotEligible
	}

	code, err := newCertificateCode()
	if err != nil {
		return nil, false, fmt.Errorf("IssueCertificate: %w", err)
	}
	certificate := &Certificate{
		ID:       uuid.NewString(),
		EventID:  event.ID,
		UserID:   userID,
		Code:     code,
		IssuedAt: time.Now().UTC().Unix(),
	}
	res, err := tx.NewInsert().
		Model(certificate).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("IssueCertificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if existing, err = findCertificate(ctx, tx, event.ID, userID); err != nil {
			return nil, false, fmt.Errorf("IssueCertificate: %w", err)
		}
		return existing, false, nil
	}
	return certificate, true, nil
}

func getCertificate(ctx context.Context, db bun.IDB, column, value string) (*Certificate, error) {
	certificate := new(Certificate)
	if err := db.NewSelect().
		Model(certificate).
		Relation("Event").
		Relation("User").
		Where("certificate."+column+" = ?", value).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certificate %w", ErrNotFound)
		}
		return nil, fmt.Errorf("getCertificate: %w", err)
	}
	return certificate, nil
}

func GetCertificate(ctx context.Context, db bun.IDB, id string) (*Certificate, error) {
	return getCertificate(ctx, db, "id", id)
}

// Codes are printed upper case but accepted in any case.
func GetCertificateByCode(ctx context.Context, db bun.IDB, code string) (*Certificate, error) {
	return getCertificate(ctx, db, "code", strings.ToUpper(strings.TrimSpace(code)))
}

func ListUserCertificates(ctx context.Context, db bun.IDB, userID string) ([]Certificate, error) {
	certificates := make([]Certificate, 0)
	if err := db.NewSelect().
		Model(&certificates).
		Relation("Event").
		Where("certificate.user_id = ?", userID).
		Order("certificate.issued_at DESC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("ListUserCertificates: %w", err)
	}
	return certificates, nil
}
