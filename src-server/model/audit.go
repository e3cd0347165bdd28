package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs,alias:audit"`

	ID         string `bun:"id,pk"              json:"id"`
	ActorID    string `bun:"actor_id,notnull"   json:"actor_id"`
	Action     string `bun:"action,notnull"     json:"action"`
	TargetType string `bun:"target_type"        json:"target_type"`
	TargetID   string `bun:"target_id"          json:"target_id"`
	Detail     string `bun:"detail"             json:"detail,omitempty"`
	CreatedAt  int64  `bun:"created_at,notnull" json:"created_at"`
}

func WriteAudit(ctx context.Context, db bun.IDB, actorID, action, targetType, targetID, detail string) error {
	if _, err := db.NewInsert().
		Model(&AuditLog{
			ID:         uuid.NewString(),
			ActorID:    actorID,
			Action:     action,
			TargetType: targetType,
			TargetID:   targetID,
			Detail:     detail,
			CreatedAt:  time.Now().UTC().Unix(),
		}).
		Exec(ctx); err != nil {
		return fmt.Errorf("WriteAudit: %w", err)
	}
	return nil
}

func ListAudit(ctx context.Context, db bun.IDB, limit, offset int) ([]AuditLog, int, error) {
	logs := make([]AuditLog, 0)
	q := db.NewSelect().
		Model(&logs).
		Order("created_at DESC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ListAudit: %w", err)
	}
	return logs, total, nil
}
