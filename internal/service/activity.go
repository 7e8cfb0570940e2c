package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mission-control/internal/models"
	"mission-control/internal/store"
)

// Activity actions.
const (
	ActionCreated      = "created"
	ActionTransitioned = "transitioned"
	ActionEnabled      = "enabled"
	ActionDisabled     = "disabled"
	ActionRunNow       = "run_now"
	ActionIngested     = "ingested"
)

// MaxActivityLimit caps a single ListActivity page.
const MaxActivityLimit = 500

// ActivityFilter narrows ListActivity. Zero values match everything.
type ActivityFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

// record appends an activity item inside the caller's transaction.
func record(ctx context.Context, tx store.Tx, at time.Time, actor models.Actor, entityType, entityID, action string, metadata any) error {
	item := models.ActivityItem{
		ActivityID: newID("activity"),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorType:  actor.ActorType,
		ActorID:    actor.ActorID,
		AuthSource: actor.AuthSource,
		CreatedAt:  at,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal activity metadata: %w", err)
		}
		encoded := string(raw)
		item.MetadataJSON = &encoded
	}
	if err := tx.AppendActivity(ctx, item); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns newest first.
func (s *Service) ListActivity(ctx context.Context, f ActivityFilter) ([]models.ActivityItem, error) {
	if f.Limit < 0 || f.Limit > MaxActivityLimit {
		return nil, invalid("limit must be between 0 and %d", MaxActivityLimit)
	}
	var items []models.ActivityItem
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		items, err = tx.ListActivity(ctx, store.ActivityFilter{
			EntityType: f.EntityType,
			EntityID:   f.EntityID,
			Limit:      f.Limit,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return items, nil
}
