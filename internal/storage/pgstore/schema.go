package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id UUID PRIMARY KEY,
  order_number TEXT NOT NULL,
  tenant_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  assigned_driver_id TEXT NULL,
  loading_name TEXT NOT NULL DEFAULT '',
  loading_address TEXT NOT NULL DEFAULT '',
  loading_point TEXT NULL,
  unloading_name TEXT NOT NULL DEFAULT '',
  unloading_address TEXT NOT NULL DEFAULT '',
  unloading_point TEXT NULL,
  load_activated_at TIMESTAMPTZ NULL,
  actual_start_time TIMESTAMPTZ NULL,
  actual_end_time TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  estimated_distance_km DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  change_xid xid8 NOT NULL DEFAULT pg_current_xact_id()
)`,
		// updated_at = now() is the transaction start, not the commit. Relay pages by writer xid.
		`CREATE INDEX IF NOT EXISTS idx_orders_change_xid_id ON orders(change_xid, id)`,
		`
CREATE TABLE IF NOT EXISTS status_updates (
  id BIGSERIAL PRIMARY KEY,
  order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  driver_id TEXT NOT NULL,
  status TEXT NOT NULL,
  location TEXT NULL,
  notes TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_status_updates_order_id_created_at ON status_updates(order_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS location_updates (
  id BIGSERIAL PRIMARY KEY,
  order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  driver_id TEXT NOT NULL,
  location TEXT NOT NULL,
  accuracy_meters DOUBLE PRECISION NULL,
  speed_kmh DOUBLE PRECISION NULL,
  heading DOUBLE PRECISION NULL,
  "timestamp" TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		// A retried flush re-sends samples that may already be stored.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_location_updates_order_ts ON location_updates(order_id, "timestamp")`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
