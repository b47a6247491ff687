// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"time"

	"gorm.io/gorm"
)

// Call context status constants.
const (
	StatusPending   = "pending"   // Inbound: created, waiting for media connection
	StatusQueued    = "queued"    // Outbound: created, waiting for provider to connect media
	StatusClaimed   = "claimed"   // Media websocket established
	StatusCompleted = "completed" // Call ended normally
	StatusFailed    = "failed"    // Call setup or execution failed
)

// Call direction constants.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// CallContext holds everything needed to resolve a media connection back to
// the call that requested it. It bridges the gap between the HTTP call-setup
// request and the provider's media websocket that follows, and carries the
// session profile (voice, instructions) the speech leg is built from.
//
// Stored in Postgres (call_contexts table). The context id doubles as the
// media URL token; the status field provides atomic claiming, so only one
// media connection can transition pending→claimed.
type CallContext struct {
	Id        uint64 `json:"id" gorm:"primaryKey;autoIncrement;<-:create"`
	ContextID string `json:"contextId" gorm:"column:context_id;type:varchar(36);not null;uniqueIndex"`
	Status    string `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`

	Provider  string `json:"provider" gorm:"column:provider;type:varchar(50);not null;default:''"`
	Direction string `json:"direction" gorm:"column:direction;type:varchar(20);not null;default:''"`

	CallerNumber string `json:"callerNumber" gorm:"column:caller_number;type:varchar(50);not null;default:''"`
	CalleeNumber string `json:"calleeNumber" gorm:"column:callee_number;type:varchar(50);not null;default:''"`

	// Session profile resolved when the media connection claims the context.
	Voice        string `json:"voice" gorm:"column:voice;type:varchar(100);not null;default:''"`
	Instructions string `json:"instructions" gorm:"column:instructions;type:text;not null;default:''"`

	// SampleRateHz is the caller-side PCM rate this call's media leg runs at.
	SampleRateHz int `json:"sampleRateHz" gorm:"column:sample_rate_hz;type:int;not null;default:0"`

	// ChannelUUID is the provider-specific call identifier (Twilio CallSid,
	// Vonage UUID, the call-connection id, etc.). Stored so that any telephony
	// operation (hangup, transfer) can reference the live call on the provider.
	ChannelUUID string `json:"channelUuid" gorm:"column:channel_uuid;type:varchar(200);not null;default:''"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`
}

func (CallContext) TableName() string {
	return "call_contexts"
}

func (cc *CallContext) BeforeCreate(tx *gorm.DB) (err error) {
	if cc.CreatedDate.IsZero() {
		cc.CreatedDate = time.Now()
	}
	return nil
}

// IsPending returns true if the context has not yet been claimed.
func (cc *CallContext) IsPending() bool {
	return cc.Status == StatusPending || cc.Status == StatusQueued
}

// IsClaimed returns true if the context has been claimed by a media connection.
func (cc *CallContext) IsClaimed() bool {
	return cc.Status == StatusClaimed
}
