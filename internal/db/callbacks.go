/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/beatsync/internal/telemetry"
)

const startTimeKey = "telemetry:start_time"

// RegisterCallbacks records query duration and error metrics for every CRUD
// operation.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Query().Before("gorm:query").Register("telemetry:before_query", beforeCallback); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("telemetry:after_query", afterCallback("query")); err != nil {
		return err
	}

	if err := cb.Create().Before("gorm:create").Register("telemetry:before_create", beforeCallback); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("telemetry:after_create", afterCallback("create")); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("telemetry:before_update", beforeCallback); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("telemetry:after_update", afterCallback("update")); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", beforeCallback); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").Register("telemetry:after_delete", afterCallback("delete"))
}

func beforeCallback(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func afterCallback(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, errorType(db.Error)).Inc()
		}
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate"
	default:
		return "query_error"
	}
}

// UpdateConnectionMetrics updates connection pool metrics.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().InUse))
}

// ReportConnections calls UpdateConnectionMetrics every interval until ctx ends.
func ReportConnections(ctx context.Context, db *gorm.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		UpdateConnectionMetrics(db)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
