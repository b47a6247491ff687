// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/rapidaai/voicegateway/pkg/commons"
)

// --- Helpers ---

// sqliteConnector satisfies the postgres connector surface over an
// in-memory database.
type sqliteConnector struct {
	db *gorm.DB
}

func (c *sqliteConnector) Database() *gorm.DB { return c.db }
func (c *sqliteConnector) Close() error       { return nil }

func openTestStore(t *testing.T) Store {
	t.Helper()

	// A named shared-cache database keeps every pooled connection on the
	// same in-memory instance.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewStore(&sqliteConnector{db: db}, nil, commons.NewNopLogger())
	require.NoError(t, err)
	return store
}

func pendingContext() *CallContext {
	return &CallContext{
		Provider:     "acs",
		Direction:    DirectionOutbound,
		CallerNumber: "+15550100",
		CalleeNumber: "+15550199",
		Voice:        "en-US-AvaNeural",
		Instructions: "You are a helpful receptionist.",
		SampleRateHz: 16000,
	}
}

// --- Tests ---

func TestStore_SaveGeneratesContextID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, err := store.Save(ctx, pendingContext())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	_, err = uuid.Parse(token)
	require.NoError(t, err)

	cc, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cc.Status)
	assert.Equal(t, "acs", cc.Provider)
	assert.Equal(t, "+15550199", cc.CalleeNumber)
	assert.Equal(t, "en-US-AvaNeural", cc.Voice)
	assert.Equal(t, "You are a helpful receptionist.", cc.Instructions)
	assert.Equal(t, 16000, cc.SampleRateHz)
	assert.False(t, cc.CreatedDate.IsZero())
}

func TestStore_SaveKeepsExplicitStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cc := pendingContext()
	cc.Status = StatusQueued
	token, err := store.Save(ctx, cc)
	require.NoError(t, err)

	stored, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, stored.Status)
	assert.True(t, stored.IsPending())
}

func TestStore_ClaimWinsExactlyOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, err := store.Save(ctx, pendingContext())
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)
	assert.True(t, claimed.IsClaimed())
	assert.Equal(t, "en-US-AvaNeural", claimed.Voice)

	_, err = store.Claim(ctx, token)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestStore_ClaimQueuedOutboundContext(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cc := pendingContext()
	cc.Status = StatusQueued
	token, err := store.Save(ctx, cc)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)
}

func TestStore_ClaimUnknownToken(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Claim(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CompletedRowStaysReadable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, err := store.Save(ctx, pendingContext())
	require.NoError(t, err)
	_, err = store.Claim(ctx, token)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, token))

	// Late provider callbacks must still resolve the context.
	cc, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cc.Status)

	// A completed context can no longer be claimed.
	_, err = store.Claim(ctx, token)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestStore_FailMarksFailed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, err := store.Save(ctx, pendingContext())
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, token))

	cc, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cc.Status)
}

func TestStore_UpdateFieldAllowlist(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, err := store.Save(ctx, pendingContext())
	require.NoError(t, err)

	require.NoError(t, store.UpdateField(ctx, token, "channel_uuid", "CA-1234"))
	cc, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "CA-1234", cc.ChannelUUID)

	err = store.UpdateField(ctx, token, "caller_number", "+15550000")
	require.ErrorContains(t, err, "not updatable")
}

func TestStore_DeleteRemovesRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, err := store.Save(ctx, pendingContext())
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, token))

	_, err = store.Get(ctx, token)
	require.ErrorIs(t, err, ErrNotFound)
}
