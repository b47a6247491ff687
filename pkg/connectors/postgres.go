// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"fmt"
	"time"

	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/configs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// PostgresConnector hands out the shared gorm handle for the call-context
// store. Connection pooling lives here, not in the stores.
type PostgresConnector interface {
	Database() *gorm.DB
	Close() error
}

type postgresConnector struct {
	logger commons.Logger
	db     *gorm.DB
}

func NewPostgresConnector(cfg configs.PostgresConfig, logger commons.Logger) (PostgresConnector, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if cfg.MaxOpenConnection > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnection)
	}
	if cfg.MaxIdealConnection > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdealConnection)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Infow("postgres connected", "host", cfg.Host, "db", cfg.DbName)
	return &postgresConnector{logger: logger, db: db}, nil
}

func (c *postgresConnector) Database() *gorm.DB {
	return c.db
}

func (c *postgresConnector) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
