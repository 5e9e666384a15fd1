package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id::text, order_number, tenant_id, status, assigned_driver_id,
  loading_name, loading_address, loading_point,
  unloading_name, unloading_address, unloading_point,
  load_activated_at, actual_start_time, actual_end_time, delivered_at,
  estimated_distance_km, created_at, updated_at,
  change_xid::text::bigint`

// Cursor is a keyset position in (change_xid, id) order. TxID is the id of the
// transaction that last wrote the row.
type Cursor struct {
	TxID int64  `json:"txid"`
	ID   string `json:"id"`
}

func (c Cursor) orZero() Cursor {
	if c.ID == "" {
		c.ID = uuid.Nil.String()
	}
	return c
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var loadingPoint, unloadingPoint *string
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.TenantID, &o.Status, &o.AssignedDriverID,
		&o.Loading.Name, &o.Loading.Address, &loadingPoint,
		&o.Unloading.Name, &o.Unloading.Address, &unloadingPoint,
		&o.LoadActivatedAt, &o.ActualStartTime, &o.ActualEndTime, &o.DeliveredAt,
		&o.EstimatedDistanceKm, &o.CreatedAt, &o.UpdatedAt,
		&o.ChangeTxID,
	); err != nil {
		return nil, err
	}

	var err error
	if o.Loading.Point, err = parseNullPoint(loadingPoint); err != nil {
		return nil, errors.Wrap(err, "loading_point")
	}
	if o.Unloading.Point, err = parseNullPoint(unloadingPoint); err != nil {
		return nil, errors.Wrap(err, "unloading_point")
	}
	return &o, nil
}

func parseNullPoint(s *string) (*geo.Point, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	p, err := geo.ParsePoint(*s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func formatNullPoint(p *geo.Point) *string {
	if p == nil {
		return nil
	}
	s := geo.FormatEWKT(*p)
	return &s
}

// CreateOrder inserts a dispatcher-created order. Zero timestamps are set to now.
func (s *Storage) CreateOrder(ctx context.Context, o models.Order) (*models.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}

	row := s.db.QueryRow(ctx, `
INSERT INTO orders (
  id, order_number, tenant_id, status, assigned_driver_id,
  loading_name, loading_address, loading_point,
  unloading_name, unloading_address, unloading_point,
  load_activated_at, actual_start_time, actual_end_time, delivered_at,
  estimated_distance_km, created_at, updated_at
)
VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING `+orderColumns,
		o.ID, o.OrderNumber, o.TenantID, o.Status, o.AssignedDriverID,
		o.Loading.Name, o.Loading.Address, formatNullPoint(o.Loading.Point),
		o.Unloading.Name, o.Unloading.Address, formatNullPoint(o.Unloading.Point),
		o.LoadActivatedAt, o.ActualStartTime, o.ActualEndTime, o.DeliveredAt,
		o.EstimatedDistanceKm, o.CreatedAt, o.UpdatedAt,
	)
	out, err := scanOrder(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.Wrapf(ErrNotFound, "order %q", id)
	}
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "order %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// UpdateOrderStatus applies ch only while the row is still in ch.From. A start time
// that is already set is kept.
func (s *Storage) UpdateOrderStatus(ctx context.Context, ch models.StatusChange) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
UPDATE orders
SET
  status = $3,
  actual_start_time = COALESCE(actual_start_time, $4),
  actual_end_time = COALESCE($5, actual_end_time),
  delivered_at = COALESCE($6, delivered_at),
  updated_at = now(),
  change_xid = pg_current_xact_id()
WHERE id = $1::uuid AND status = $2
RETURNING `+orderColumns,
		ch.OrderID, ch.From, ch.To, ch.ActualStartTime, ch.ActualEndTime, ch.DeliveredAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrStaleOrder, "order %s is no longer %s", ch.OrderID, ch.From)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	return o, nil
}

// AssignDriverIfUnassigned sets the driver only on an unassigned row. When the row
// was already assigned it returns the current order and false.
func (s *Storage) AssignDriverIfUnassigned(ctx context.Context, orderID, driverID string) (*models.Order, bool, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
UPDATE orders
SET assigned_driver_id = $2, updated_at = now(), change_xid = pg_current_xact_id()
WHERE id = $1::uuid AND assigned_driver_id IS NULL
RETURNING `+orderColumns, orderID, driverID))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Wrap(err, "assign driver")
	}

	cur, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

// ListOrdersChangedAfter pages through orders in (change_xid, id) order. Rows written
// by a transaction that may still be running behind another one are held back until
// every older transaction has finished, so a late commit is never skipped by the cursor.
func (s *Storage) ListOrdersChangedAfter(ctx context.Context, after Cursor, limit int) ([]*models.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	after = after.orZero()

	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE (change_xid, id) > ($1::bigint::text::xid8, $2::uuid)
  AND change_xid < pg_snapshot_xmin(pg_current_snapshot())
ORDER BY change_xid ASC, id ASC
LIMIT $3
`, after.TxID, after.ID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select changed orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
