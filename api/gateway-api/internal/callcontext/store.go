// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-gorm/caches/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/connectors"
)

var (
	// ErrNotFound means no call context exists for the given contextId.
	ErrNotFound = errors.New("call context not found")
	// ErrAlreadyClaimed means the context exists but a media connection
	// already won its claim.
	ErrAlreadyClaimed = errors.New("call context already claimed")
)

// Store provides operations to save and retrieve call contexts from Postgres.
//
// Call contexts are session-scoped records that live for the entire duration
// of a call. Telephony providers send event/status callbacks asynchronously —
// these can arrive at any time, including after the media stream has
// disconnected and the context has been marked "completed". Therefore, the
// row is never deleted during the call lifecycle; it is only transitioned
// through statuses: pending/queued → claimed → completed/failed.
type Store interface {
	// Save stores a call context with a generated contextId (UUID).
	// Returns the generated contextId.
	Save(ctx context.Context, cc *CallContext) (string, error)

	// Get retrieves a call context by contextId regardless of its current
	// status. This is intentional: event/status callbacks from the telephony
	// provider are asynchronous and may arrive after the call has already
	// ended. The row must remain readable for the full lifetime of the
	// context.
	Get(ctx context.Context, contextID string) (*CallContext, error)

	// Claim atomically transitions a call context from "pending" or "queued"
	// to "claimed". Inbound contexts start as "pending"; outbound contexts
	// start as "queued". Only one concurrent media connection can win the
	// claim — subsequent callers get an error because the row is no longer
	// in a claimable status.
	Claim(ctx context.Context, contextID string) (*CallContext, error)

	// Complete marks a call context as completed. Called when the call ends.
	// The row remains in the database so that late-arriving async event
	// callbacks can still resolve the context.
	Complete(ctx context.Context, contextID string) error

	// Fail marks a call context as failed, for setup errors and teardowns
	// that never reached a normal completion.
	Fail(ctx context.Context, contextID string) error

	// UpdateField sets a single column on an existing call context.
	// Used to patch the channel UUID after the telephony provider returns it.
	UpdateField(ctx context.Context, contextID, field, value string) error

	// Delete removes a call context row. This is only intended for cleanup,
	// NOT during active call flows, because async event callbacks may still
	// reference the contextId.
	Delete(ctx context.Context, contextID string) error
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates a call context store backed by Postgres. When a redis
// connector is supplied, reads go through the gorm caches plugin so the
// media-accept hot path avoids a database round trip. Migration of the
// call_contexts table happens here.
func NewStore(postgres connectors.PostgresConnector, redis connectors.RedisConnector, logger commons.Logger) (Store, error) {
	db := postgres.Database()
	if err := db.AutoMigrate(&CallContext{}); err != nil {
		return nil, fmt.Errorf("call context migration: %w", err)
	}

	if redis != nil {
		plugin := &caches.Caches{Conf: &caches.Config{
			Easer:  true,
			Cacher: newRedisCacher(redis.Client()),
		}}
		if err := db.Use(plugin); err != nil {
			return nil, fmt.Errorf("call context cache plugin: %w", err)
		}
		logger.Infow("call context cache enabled")
	}

	return &postgresStore{
		postgres: postgres,
		logger:   logger,
	}, nil
}

func (s *postgresStore) db(ctx context.Context) *gorm.DB {
	return s.postgres.Database().WithContext(ctx)
}

// Save stores a call context with a generated UUID as the contextId.
func (s *postgresStore) Save(ctx context.Context, cc *CallContext) (string, error) {
	if cc.ContextID == "" {
		cc.ContextID = uuid.New().String()
	}
	if cc.Status == "" {
		cc.Status = StatusPending
	}

	if err := s.db(ctx).Create(cc).Error; err != nil {
		return "", fmt.Errorf("failed to save call context %s: %w", cc.ContextID, err)
	}

	s.logger.Infof("saved call context: contextId=%s, provider=%s, direction=%s",
		cc.ContextID, cc.Provider, cc.Direction)

	return cc.ContextID, nil
}

// Get retrieves a call context by contextId regardless of its status.
// Used by event/status callbacks which need the context throughout the call,
// including after the media stream has ended.
func (s *postgresStore) Get(ctx context.Context, contextID string) (*CallContext, error) {
	var cc CallContext
	if err := s.db(ctx).Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, contextID)
		}
		return nil, fmt.Errorf("failed to load call context %s: %w", contextID, err)
	}

	s.logger.Debugf("resolved call context: contextId=%s, provider=%s, status=%s",
		cc.ContextID, cc.Provider, cc.Status)

	return &cc, nil
}

// Claim atomically transitions a call context from "pending" or "queued" to
// "claimed" using a guarded UPDATE. Only one concurrent caller can win. The
// context remains in the database so event callbacks can still read it.
func (s *postgresStore) Claim(ctx context.Context, contextID string) (*CallContext, error) {
	db := s.db(ctx)

	// Atomic update: only succeeds if the row is still claimable.
	result := db.Model(&CallContext{}).
		Where("context_id = ? AND status IN ?", contextID, []string{StatusPending, StatusQueued}).
		Updates(map[string]interface{}{
			"status":       StatusClaimed,
			"updated_date": time.Now(),
		})

	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim call context %s: %w", contextID, result.Error)
	}
	if result.RowsAffected == 0 {
		// Losing the guarded update means the row is gone or no longer
		// claimable; tell the caller which.
		var existing CallContext
		if err := db.Where("context_id = ?", contextID).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, contextID)
		}
		return nil, fmt.Errorf("%w: %s (status=%s)", ErrAlreadyClaimed, contextID, existing.Status)
	}

	var cc CallContext
	if err := db.Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch claimed call context %s: %w", contextID, err)
	}

	s.logger.Debugf("claimed call context: contextId=%s, provider=%s", cc.ContextID, cc.Provider)

	return &cc, nil
}

// Complete marks a call context as completed. Called when the call ends.
func (s *postgresStore) Complete(ctx context.Context, contextID string) error {
	return s.transition(ctx, contextID, StatusCompleted)
}

// Fail marks a call context as failed.
func (s *postgresStore) Fail(ctx context.Context, contextID string) error {
	return s.transition(ctx, contextID, StatusFailed)
}

func (s *postgresStore) transition(ctx context.Context, contextID, status string) error {
	result := s.db(ctx).Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Updates(map[string]interface{}{
			"status":       status,
			"updated_date": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark call context %s %s: %w", contextID, status, result.Error)
	}

	s.logger.Debugf("call context transitioned: contextId=%s, status=%s", contextID, status)
	return nil
}

// UpdateField sets a single column on an existing call context row.
func (s *postgresStore) UpdateField(ctx context.Context, contextID, field, value string) error {
	// Allowlist of updatable fields to prevent SQL injection
	allowed := map[string]bool{
		"channel_uuid": true,
		"status":       true,
		"provider":     true,
	}
	if !allowed[field] {
		return fmt.Errorf("field %q is not updatable on call context", field)
	}

	result := s.db(ctx).Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Update(field, value)

	if result.Error != nil {
		return fmt.Errorf("failed to update field %s on call context %s: %w", field, contextID, result.Error)
	}

	s.logger.Debugf("updated call context field: contextId=%s, %s=%s", contextID, field, value)
	return nil
}

// Delete removes a call context from Postgres.
func (s *postgresStore) Delete(ctx context.Context, contextID string) error {
	if err := s.db(ctx).Where("context_id = ?", contextID).Delete(&CallContext{}).Error; err != nil {
		return fmt.Errorf("failed to delete call context %s: %w", contextID, err)
	}

	s.logger.Debugf("deleted call context: contextId=%s", contextID)
	return nil
}
