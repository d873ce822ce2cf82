/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	DBBackend DatabaseBackend
	DBDSN     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Question queue behavior
	PreloadedQuestionCount int           // Upcoming entries kept materialized ahead of time
	QuestionDuration       time.Duration // How long players have to answer each round
	AnswerDuration         time.Duration // Gap between rounds where the answer is shown
	RefreshInterval        time.Duration // Background queue top-up cadence

	// Multi-instance configuration
	LeaderElectionEnabled bool
	InstanceID            string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("LOREKEEP_ENV", "development"),
		HTTPBind:    getEnv("LOREKEEP_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("LOREKEEP_HTTP_PORT", 8080),
		MetricsBind: getEnv("LOREKEEP_METRICS_BIND", "127.0.0.1:9000"),

		DBBackend: DatabaseBackend(getEnv("LOREKEEP_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("LOREKEEP_DB_DSN", ""),

		RedisAddr:     getEnv("LOREKEEP_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("LOREKEEP_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("LOREKEEP_REDIS_DB", 0),

		PreloadedQuestionCount: getEnvInt("LOREKEEP_PRELOADED_QUESTION_COUNT", 5),
		QuestionDuration:       time.Duration(getEnvInt("LOREKEEP_QUESTION_SECONDS", 30)) * time.Second,
		AnswerDuration:         time.Duration(getEnvInt("LOREKEEP_ANSWER_SECONDS", 10)) * time.Second,
		RefreshInterval:        time.Duration(getEnvInt("LOREKEEP_REFRESH_INTERVAL_SECONDS", 30)) * time.Second,

		LeaderElectionEnabled: getEnvBool("LOREKEEP_LEADER_ELECTION_ENABLED", false),
		InstanceID:            getEnv("LOREKEEP_INSTANCE_ID", ""),

		TracingEnabled:    getEnvBool("LOREKEEP_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("LOREKEEP_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("LOREKEEP_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("LOREKEEP_DB_DSN must be provided")
	}
	if cfg.PreloadedQuestionCount <= 0 {
		return nil, fmt.Errorf("LOREKEEP_PRELOADED_QUESTION_COUNT must be positive")
	}
	if cfg.QuestionDuration <= 0 || cfg.AnswerDuration <= 0 {
		return nil, fmt.Errorf("question and answer durations must be positive")
	}

	return cfg, nil
}

// TotalRoundDuration is the full slot length: the question window plus the
// answer-reveal gap that follows it. Slot starts align to this interval.
func (c *Config) TotalRoundDuration() time.Duration {
	return c.QuestionDuration + c.AnswerDuration
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
