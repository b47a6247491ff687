// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package gateway_health_api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

type sqliteConnector struct {
	db *gorm.DB
}

func (c *sqliteConnector) Database() *gorm.DB { return c.db }
func (c *sqliteConnector) Close() error       { return nil }

func newHealthEngine(t *testing.T) *gin.Engine {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	hcApi := New(&config.AppConfig{}, commons.NewNopLogger(), &sqliteConnector{db: db})
	engine.GET("/health", hcApi.Healthz)
	engine.GET("/healthz/", hcApi.Healthz)
	engine.GET("/readiness/", hcApi.Readiness)
	return engine
}

func TestHealthz(t *testing.T) {
	engine := newHealthEngine(t)

	for _, path := range []string{"/health", "/healthz/"} {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	}
}

func TestReadiness_DatabaseReachable(t *testing.T) {
	engine := newHealthEngine(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ready"}`, rec.Body.String())
}
