package model

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type QRCodeKind string

const (
	QRCodeKindEventCheckIn QRCodeKind = "event_checkin"
	QRCodeKindProfile      QRCodeKind = "profile"
)

type QRCode struct {
	bun.BaseModel `bun:"table:qr_codes,alias:qr_code"`

	ID        string     `bun:"id,pk"                                          json:"id"`
	OwnerID   string     `bun:"owner_id,notnull,unique:qr_code_owner_kind_event" json:"owner_id"`
	Kind      QRCodeKind `bun:"kind,notnull,type:varchar,unique:qr_code_owner_kind_event" json:"kind"`
	EventID   string     `bun:"event_id,notnull,unique:qr_code_owner_kind_event" json:"event_id,omitempty"`
	Token     string     `bun:"token,notnull,unique"                           json:"-"`
	Payload   string     `bun:"payload,notnull"                                json:"payload"`
	CreatedAt int64      `bun:"created_at,notnull"                             json:"created_at"`
}

// The JSON document encoded in the QR image.
type QRPayload struct {
	Type     QRCodeKind `json:"type"`
	EventID  string     `json:"event_id,omitempty"`
	UserID   string     `json:"user_id"`
	Token    string     `json:"token"`
	IssuedAt int64      `json:"issued_at"`
}

func newQRToken() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func findQRCode(ctx context.Context, db bun.IDB, ownerID string, kind QRCodeKind, eventID string) (*QRCode, error) {
	qrCode := new(QRCode)
	if err := db.NewSelect().
		Model(qrCode).
		Where("owner_id = ?", ownerID).
		Where("kind = ?", kind).
		Where("event_id = ?", eventID).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("qr code %w", ErrNotFound)
		}
		return nil, err
	}
	return qrCode, nil
}

// Returns the stored QR code of the owner, creating it on first use. The
// payload never changes once created so printed codes keep working. When two
// callers race, the loser gets the winner's row.
func GetOrCreateQRCode(ctx context.Context, db bun.IDB, ownerID string, kind QRCodeKind, eventID string) (*QRCode, bool, error) {
	if kind == QRCodeKindProfile {
		eventID = ""
	}
	existing, err := findQRCode(ctx, db, ownerID, kind, eventID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("GetOrCreateQRCode: %w", err)
	}

	token, err := newQRToken()
	if err != nil {
		return nil, false, fmt.Errorf("GetOrCreateQRCode: %w", err)
	}
	now := time.Now().UTC().Unix()
	payload, err := json.Marshal(QRPayload{
		Type:     kind,
		EventID:  eventID,
		UserID:   ownerID,
		Token:    token,
		IssuedAt: now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("GetOrCreateQRCode: %w", err)
	}
	qrCode := &QRCode{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      kind,
		EventID:   eventID,
		Token:     token,
		Payload:   string(payload),
		CreatedAt: now,
	}
	res, err := db.NewInsert().
		Model(qrCode).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("GetOrCreateQRCode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if existing, err = findQRCode(ctx, db, ownerID, kind, eventID); err != nil {
			return nil, false, fmt.Errorf("GetOrCreateQRCode: %w", err)
		}
		return existing, false, nil
	}
	return qrCode, true, nil
}

func ParseQRPayload(raw string) (*QRPayload, error) {
	payload := new(QRPayload)
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid json", ErrInvalidQRCode)
	}
	if payload.Token == "" || payload.UserID == "" {
		return nil, fmt.Errorf("%w: payload is incomplete", ErrInvalidQRCode)
	}
	return payload, nil
}

// Checks a scanned check-in payload against the stored code for the event and
// returns the owner's user id.
func ResolveCheckInPayload(ctx context.Context, db bun.IDB, eventID, raw string) (string, error) {
	payload, err := ParseQRPayload(raw)
	if err != nil {
		return "", err
	}
	switch {
	case payload.Type != QRCodeKindEventCheckIn:
		return "", fmt.Errorf("%w: not a check-in code", ErrInvalidQRCode)
	case payload.EventID != eventID:
		return "", fmt.Errorf("%w: code belongs to another event", ErrInvalidQRCode)
	}

	qrCode := new(QRCode)
	if err := db.NewSelect().
		Model(qrCode).
		Where("token = ?", payload.Token).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: unknown code", ErrInvalidQRCode)
		}
		return "", fmt.Errorf("ResolveCheckInPayload: %w", err)
	}
	if qrCode.OwnerID != payload.UserID || qrCode.EventID != eventID || qrCode.Kind != QRCodeKindEventCheckIn {
		return "", fmt.Errorf("%w: code doesn't match its owner", ErrInvalidQRCode)
	}
	return qrCode.OwnerID, nil
}
