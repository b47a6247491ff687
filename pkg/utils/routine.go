// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// Go runs fn on a new goroutine and recovers panics, so one misbehaving
// background task cannot take down the process. The context is accepted for
// call-site symmetry; fn is responsible for honoring it.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.S().Errorw("recovered goroutine panic",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
