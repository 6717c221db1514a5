/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models holds the persisted records.
package models

import "time"

// TempoRecord is a resolved tempo for one track identity.
type TempoRecord struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	IdentityKey string  `gorm:"type:varchar(512);uniqueIndex"`
	Artist      string  `gorm:"type:varchar(255)"`
	Title       string  `gorm:"type:varchar(255)"`
	BPM         float64 `gorm:"column:bpm"`
	Source      string  `gorm:"type:varchar(32)"`
	Hits        int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the table name across dialects.
func (TempoRecord) TableName() string { return "tempo_records" }
