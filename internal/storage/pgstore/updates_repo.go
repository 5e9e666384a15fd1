package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) InsertStatusUpdate(ctx context.Context, u models.StatusUpdate) (uint64, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO status_updates (order_id, driver_id, status, location, notes, created_at)
VALUES ($1::uuid,$2,$3,$4,$5,$6)
RETURNING id
`, u.OrderID, u.DriverID, u.Status, formatNullPoint(u.Location), u.Notes, u.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert status update")
	}
	return id, nil
}

func (s *Storage) ListStatusUpdates(ctx context.Context, orderID string) ([]*models.StatusUpdate, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, order_id::text, driver_id, status, location, notes, created_at
FROM status_updates
WHERE order_id = $1::uuid
ORDER BY created_at ASC, id ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select status updates")
	}
	defer rows.Close()

	var out []*models.StatusUpdate
	for rows.Next() {
		var u models.StatusUpdate
		var loc *string
		if err := rows.Scan(&u.ID, &u.OrderID, &u.DriverID, &u.Status, &loc, &u.Notes, &u.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan status update")
		}
		if u.Location, err = parseNullPoint(loc); err != nil {
			return nil, errors.Wrap(err, "status update location")
		}
		out = append(out, &u)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// InsertLocationUpdates stores the whole batch in one transaction. Samples already
// stored for the same (order, timestamp) are skipped, so a retried batch is harmless.
func (s *Storage) InsertLocationUpdates(ctx context.Context, samples []models.LocationSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, smp := range samples {
		b.Queue(`
INSERT INTO location_updates (
  order_id, driver_id, location, accuracy_meters, speed_kmh, heading, "timestamp"
)
VALUES ($1::uuid,$2,$3,$4,$5,$6,$7)
ON CONFLICT (order_id, "timestamp") DO NOTHING
`, smp.OrderID, smp.DriverID, geo.FormatEWKT(smp.Point), smp.AccuracyMeters, smp.SpeedKmh, smp.Heading, smp.Timestamp.UTC())
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "insert location updates")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ListLocationUpdates(ctx context.Context, orderID string, limit int) ([]models.LocationSample, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT order_id::text, driver_id, location, accuracy_meters, speed_kmh, heading, "timestamp"
FROM location_updates
WHERE order_id = $1::uuid
ORDER BY "timestamp" ASC
LIMIT $2
`, orderID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select location updates")
	}
	defer rows.Close()

	var out []models.LocationSample
	for rows.Next() {
		var smp models.LocationSample
		var loc string
		if err := rows.Scan(&smp.OrderID, &smp.DriverID, &loc, &smp.AccuracyMeters, &smp.SpeedKmh, &smp.Heading, &smp.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan location update")
		}
		if smp.Point, err = geo.ParsePoint(loc); err != nil {
			return nil, errors.Wrap(err, "location update point")
		}
		out = append(out, smp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
