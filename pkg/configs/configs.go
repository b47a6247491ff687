// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package configs

import "fmt"

// PostgresConfig holds connection settings for the call-context database.
type PostgresConfig struct {
	Host               string     `mapstructure:"host" validate:"required"`
	Port               int        `mapstructure:"port" validate:"required"`
	DbName             string     `mapstructure:"db_name" validate:"required"`
	Auth               AuthConfig `mapstructure:"auth"`
	MaxOpenConnection  int        `mapstructure:"max_open_connection"`
	MaxIdealConnection int        `mapstructure:"max_ideal_connection"`
	SslMode            string     `mapstructure:"ssl_mode"`
}

// AuthConfig is a user/password pair for a connector.
type AuthConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DSN renders the gorm/pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		p.Host, p.Auth.User, p.Auth.Password, p.DbName, p.Port, p.SslMode)
}

// RedisConfig holds connection settings for the call-context cache.
type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	Db       int    `mapstructure:"db"`
}

// Addr renders the host:port pair for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
