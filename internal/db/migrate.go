/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/lorekeep/lorekeep/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Question{},
		&models.Answer{},
		&models.QueueEntry{},
	); err != nil {
		return err
	}

	return applyPostgresQueueOverlapGuard(database)
}

// applyPostgresQueueOverlapGuard installs a trigger that rejects queue
// entry inserts whose [starts_at, ends_at) window intersects an existing
// row. The store also checks overlap in its insert transaction; this
// trigger is the durable arbiter when several instances race to top up.
func applyPostgresQueueOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_queue_entry_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'queue entry end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF EXISTS (
    SELECT 1
    FROM queue_entries qe
    WHERE qe.id <> NEW.id
      AND tstzrange(qe.starts_at, qe.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping queue entries are not allowed'
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_queue_entry_overlap ON queue_entries;

CREATE TRIGGER trg_prevent_queue_entry_overlap
BEFORE INSERT OR UPDATE OF starts_at, ends_at
ON queue_entries
FOR EACH ROW
EXECUTE FUNCTION prevent_queue_entry_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres queue overlap guard: %w", err)
	}

	return nil
}
