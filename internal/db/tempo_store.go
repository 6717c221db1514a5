/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/beatsync/internal/models"
	"github.com/friendsincode/beatsync/internal/tempo"
)

// TempoStore persists resolved tempos. It is the durable layer behind the
// Redis cache.
type TempoStore struct {
	db *gorm.DB
}

var (
	_ tempo.Cache       = (*TempoStore)(nil)
	_ tempo.Invalidator = (*TempoStore)(nil)
)

// NewTempoStore wraps an open, migrated database.
func NewTempoStore(db *gorm.DB) *TempoStore {
	return &TempoStore{db: db}
}

// Name implements tempo.Cache.
func (s *TempoStore) Name() string { return "db" }

// GetTempo returns the stored tempo for id and counts the hit.
func (s *TempoStore) GetTempo(ctx context.Context, id tempo.Identity) (float64, bool, error) {
	var rec models.TempoRecord
	err := s.db.WithContext(ctx).Where("identity_key = ?", id.Key()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load tempo: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&rec).UpdateColumn("hits", gorm.Expr("hits + ?", 1)).Error; err != nil {
		return rec.BPM, true, fmt.Errorf("count hit: %w", err)
	}
	return rec.BPM, true, nil
}

// SetTempo inserts or replaces the tempo for id.
func (s *TempoStore) SetTempo(ctx context.Context, id tempo.Identity, bpm float64, source string) error {
	now := time.Now().UTC()
	rec := models.TempoRecord{
		ID:          uuid.NewString(),
		IdentityKey: id.Key(),
		Artist:      id.Artist,
		Title:       id.Title,
		BPM:         bpm,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"artist", "title", "bpm", "source", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store tempo: %w", err)
	}
	return nil
}

// Recent returns the most recently updated records, newest first.
func (s *TempoStore) Recent(ctx context.Context, limit int) ([]models.TempoRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var recs []models.TempoRecord
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list tempos: %w", err)
	}
	return recs, nil
}

// InvalidateTempo removes the record for id. Removing a missing record is not
// an error.
func (s *TempoStore) InvalidateTempo(ctx context.Context, id tempo.Identity) error {
	if err := s.db.WithContext(ctx).Where("identity_key = ?", id.Key()).Delete(&models.TempoRecord{}).Error; err != nil {
		return fmt.Errorf("delete tempo: %w", err)
	}
	return nil
}
