package repository

import (
	"context"

	"conversation-analysis/internal/domain/model"
)

type ErrorEventRepository interface {
	// Upsert merges ev into an event with the same dedup key seen within
	// model.ErrorDedupWindow, or inserts it. It returns the stored event.
	Upsert(ctx context.Context, ev *model.ErrorEvent) (*model.ErrorEvent, error)
	ListUnresolved(ctx context.Context, limit int) ([]*model.ErrorEvent, error)
	Resolve(ctx context.Context, id, resolvedBy, resolution string) error
}

type ActivityRepository interface {
	Append(ctx context.Context, ev *model.ActivityEvent) error
}
