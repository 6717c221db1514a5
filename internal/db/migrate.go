/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/beatsync/internal/models"
)

// Migrate applies the schema using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&models.TempoRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
