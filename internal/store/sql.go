// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// torrent is a row of the torrents table.
// Field names avoid CreatedAt/UpdatedAt so that gorm does not manage the timestamps.
type torrent struct {
	Key        string `gorm:"column:key;primaryKey"`
	Descriptor []byte `gorm:"column:descriptor"`
	Created    int64  `gorm:"column:created_at;not null"`
	Expires    int64  `gorm:"column:expires_at;not null"`
}

// TableName implements schema.Tabler.
func (torrent) TableName() string {
	return "torrents"
}

// sqlStore is a Store backed by a SQL database.
type sqlStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

var _ Store = &sqlStore{}

// newSQLStore migrates the torrents table on the given dialector and returns a store over it.
func newSQLStore(ctx context.Context, dialector gorm.Dialector, maxOpenConns int) (*sqlStore, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "store").Str("dialect", dialector.Name()).Logger()

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrIO, err)
	}

	if maxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.WithContext(ctx).AutoMigrate(&torrent{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrIO, err)
	}

	log.Debug().Msg("cache store ready")
	return &sqlStore{db: db, log: log}, nil
}

// Lookup returns the entry for key, or nil if there is none.
func (s *sqlStore) Lookup(ctx context.Context, key string) (*Entry, error) {
	var row torrent
	err := s.db.WithContext(ctx).Where(map[string]interface{}{"key": key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("cache lookup error")
		return nil, fmt.Errorf("%w: lookup %v: %v", ErrIO, key, err)
	}

	return &Entry{
		Key:        row.Key,
		Descriptor: row.Descriptor,
		CreatedAt:  time.Unix(row.Created, 0),
		ExpiresAt:  time.Unix(row.Expires, 0),
	}, nil
}

// Upsert inserts or replaces the entry with a single INSERT ... ON CONFLICT statement.
func (s *sqlStore) Upsert(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	row := torrent{
		Key:        e.Key,
		Descriptor: e.Descriptor,
		Created:    e.CreatedAt.Unix(),
		Expires:    e.ExpiresAt.Unix(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"descriptor", "created_at", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		s.log.Error().Err(err).Str("key", e.Key).Msg("cache upsert error")
		return fmt.Errorf("%w: upsert %v: %v", ErrIO, e.Key, err)
	}

	return nil
}

// Close closes the underlying database.
func (s *sqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
