/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"time"

	"gorm.io/gorm"

	"github.com/lorekeep/lorekeep/internal/telemetry"
)

const _startTime = "gorm:start_time"

// RegisterCallbacks registers telemetry callbacks for GORM operations.
func RegisterCallbacks(database *gorm.DB) error {
	callbacks := []struct {
		kind     string
		register func(before, after func(*gorm.DB)) error
	}{
		{"query", func(before, after func(*gorm.DB)) error {
			if err := database.Callback().Query().Before("gorm:query").Register("telemetry:before_query", before); err != nil {
				return err
			}
			return database.Callback().Query().After("gorm:query").Register("telemetry:after_query", after)
		}},
		{"create", func(before, after func(*gorm.DB)) error {
			if err := database.Callback().Create().Before("gorm:create").Register("telemetry:before_create", before); err != nil {
				return err
			}
			return database.Callback().Create().After("gorm:create").Register("telemetry:after_create", after)
		}},
		{"update", func(before, after func(*gorm.DB)) error {
			if err := database.Callback().Update().Before("gorm:update").Register("telemetry:before_update", before); err != nil {
				return err
			}
			return database.Callback().Update().After("gorm:update").Register("telemetry:after_update", after)
		}},
		{"delete", func(before, after func(*gorm.DB)) error {
			if err := database.Callback().Delete().Before("gorm:delete").Register("telemetry:before_delete", before); err != nil {
				return err
			}
			return database.Callback().Delete().After("gorm:delete").Register("telemetry:after_delete", after)
		}},
	}

	for _, cb := range callbacks {
		if err := cb.register(beforeCallback, afterCallback(cb.kind)); err != nil {
			return err
		}
	}

	return nil
}

// beforeCallback records the start time before a database operation.
func beforeCallback(database *gorm.DB) {
	database.InstanceSet(_startTime, time.Now())
}

// afterCallback creates a callback that records metrics after a database operation.
func afterCallback(operation string) func(*gorm.DB) {
	return func(database *gorm.DB) {
		startTimeValue, exists := database.InstanceGet(_startTime)
		if !exists {
			return
		}
		startTime, ok := startTimeValue.(time.Time)
		if !ok {
			return
		}

		tableName := database.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		telemetry.DBOperationDuration.
			WithLabelValues(operation, tableName).
			Observe(time.Since(startTime).Seconds())

		if database.Error != nil && database.Error != gorm.ErrRecordNotFound {
			telemetry.DBErrorsTotal.WithLabelValues(operation).Inc()
		}
	}
}
