package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dev-aquilas225/stock-sub001/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence of order aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// CreateOrder inserts the order header and lines at version 1.
func (r *Repository) CreateOrder(ctx context.Context, order Order) (Order, error) {
	created := order.Clone()
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO purchase_orders
			(reference, supplier_ref, status, note, estimated_delivery, settlement_currency,
			 ordered_amount, received_amount, damaged_amount, returned_amount, net_amount,
			 version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13)
			RETURNING id`,
			order.Reference, order.SupplierRef, string(order.Status), order.Note, dateParam(order.EstimatedDelivery), order.SettlementCurrency,
			order.Totals.OrderedAmount, order.Totals.ReceivedAmount, order.Totals.DamagedAmount, order.Totals.ReturnedAmount, order.Totals.NetAmount,
			order.CreatedAt, order.UpdatedAt,
		).Scan(&created.ID)
		if err != nil {
			return err
		}
		for i := range created.Lines {
			line := &created.Lines[i]
			err := tx.QueryRow(ctx, `INSERT INTO purchase_order_lines
				(order_id, position, product_ref, unit_price, negotiated_price, qty_ordered, currency,
				 converted_amount, conversion_rate, packaging, lot_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				RETURNING id`,
				created.ID, i, line.ProductRef, line.UnitPrice, line.NegotiatedPrice, line.QtyOrdered, line.Currency,
				line.ConvertedAmount, line.ConversionRate, line.Packaging, line.LotID,
			).Scan(&line.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Order{}, &ValidationError{Field: "reference", Reason: "reference already used"}
		}
		return Order{}, fmt.Errorf("procurement: create order: %w", err)
	}
	created.Version = 1
	return created, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LoadOrder reads the full aggregate and its version from one snapshot.
func (r *Repository) LoadOrder(ctx context.Context, id int64) (Order, int64, error) {
	var order Order
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		loaded, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		order = loaded
		return nil
	})
	if err != nil {
		return Order{}, 0, err
	}
	return order, order.Version, nil
}

func loadOrder(ctx context.Context, q querier, id int64) (Order, error) {
	var (
		order       Order
		status      string
		estimated   pgtype.Date
		closedAt    pgtype.Timestamptz
		closeReason pgtype.Text
	)
	err := q.QueryRow(ctx, `SELECT id, reference, supplier_ref, status, note, estimated_delivery, settlement_currency,
			ordered_amount, received_amount, damaged_amount, returned_amount, net_amount,
			partial_close, close_reason, closed_at, version, created_at, updated_at
		FROM purchase_orders WHERE id = $1`, id).Scan(
		&order.ID, &order.Reference, &order.SupplierRef, &status, &order.Note, &estimated, &order.SettlementCurrency,
		&order.Totals.OrderedAmount, &order.Totals.ReceivedAmount, &order.Totals.DamagedAmount, &order.Totals.ReturnedAmount, &order.Totals.NetAmount,
		&order.PartialClose, &closeReason, &closedAt, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, &NotFoundError{Entity: "order", ID: formatID(id)}
		}
		return Order{}, fmt.Errorf("procurement: load order: %w", err)
	}
	order.Status = OrderStatus(status)
	if estimated.Valid {
		order.EstimatedDelivery = estimated.Time
	}
	if closedAt.Valid {
		at := closedAt.Time
		order.ClosedAt = &at
	}
	order.CloseReason = closeReason.String

	lines, err := loadLines(ctx, q, id)
	if err != nil {
		return Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func loadLines(ctx context.Context, q querier, orderID int64) ([]OrderLine, error) {
	rows, err := q.Query(ctx, `SELECT id, product_ref, unit_price, negotiated_price, qty_ordered, currency,
			converted_amount, conversion_rate, packaging, lot_id,
			qty_received, qty_damaged, qty_returned, qty_reserved,
			received_amount, damaged_amount, returned_amount
		FROM purchase_order_lines WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load lines: %w", err)
	}
	var lines []OrderLine
	index := make(map[int64]int)
	for rows.Next() {
		var line OrderLine
		if err := rows.Scan(&line.ID, &line.ProductRef, &line.UnitPrice, &line.NegotiatedPrice, &line.QtyOrdered, &line.Currency,
			&line.ConvertedAmount, &line.ConversionRate, &line.Packaging, &line.LotID,
			&line.QtyReceived, &line.QtyDamaged, &line.QtyReturned, &line.QtyReserved,
			&line.ReceivedAmount, &line.DamagedAmount, &line.ReturnedAmount); err != nil {
			rows.Close()
			return nil, err
		}
		index[line.ID] = len(lines)
		lines = append(lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recRows, err := q.Query(ctx, `SELECT r.id, r.line_id, r.qty_received, r.qty_damaged, r.received_at, r.comment, r.recorded_at
		FROM order_receptions r JOIN purchase_order_lines l ON l.id = r.line_id
		WHERE l.order_id = $1 ORDER BY r.seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load receptions: %w", err)
	}
	for recRows.Next() {
		var (
			rec    Reception
			lineID int64
		)
		if err := recRows.Scan(&rec.ID, &lineID, &rec.QtyReceived, &rec.QtyDamaged, &rec.ReceivedAt, &rec.Comment, &rec.RecordedAt); err != nil {
			recRows.Close()
			return nil, err
		}
		if i, ok := index[lineID]; ok {
			lines[i].Receptions = append(lines[i].Receptions, rec)
		}
	}
	recRows.Close()
	if err := recRows.Err(); err != nil {
		return nil, err
	}

	retRows, err := q.Query(ctx, `SELECT r.id, r.line_id, r.quantity, r.motive, r.status, r.requested_at, r.decided_at, r.processed_at
		FROM order_returns r JOIN purchase_order_lines l ON l.id = r.line_id
		WHERE l.order_id = $1 ORDER BY r.seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load returns: %w", err)
	}
	defer retRows.Close()
	for retRows.Next() {
		var (
			ret       ReturnRequest
			status    string
			decided   pgtype.Timestamptz
			processed pgtype.Timestamptz
		)
		if err := retRows.Scan(&ret.ID, &ret.LineID, &ret.Quantity, &ret.Motive, &status, &ret.RequestedAt, &decided, &processed); err != nil {
			return nil, err
		}
		ret.Status = ReturnStatus(status)
		ret.DecidedAt = timePtr(decided)
		ret.ProcessedAt = timePtr(processed)
		if i, ok := index[ret.LineID]; ok {
			lines[i].Returns = append(lines[i].Returns, ret)
		}
	}
	return lines, retRows.Err()
}

// SaveOrder writes the aggregate when the stored version still equals expectedVersion.
func (r *Repository) SaveOrder(ctx context.Context, order Order, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `UPDATE purchase_orders SET
				status = $3, note = $4, estimated_delivery = $5,
				ordered_amount = $6, received_amount = $7, damaged_amount = $8, returned_amount = $9, net_amount = $10,
				partial_close = $11, close_reason = $12, closed_at = $13, updated_at = $14,
				version = version + 1
			WHERE id = $1 AND version = $2
			RETURNING version`,
			order.ID, expectedVersion, string(order.Status), order.Note, dateParam(order.EstimatedDelivery),
			order.Totals.OrderedAmount, order.Totals.ReceivedAmount, order.Totals.DamagedAmount, order.Totals.ReturnedAmount, order.Totals.NetAmount,
			order.PartialClose, order.CloseReason, timestamptzParam(order.ClosedAt), order.UpdatedAt,
		).Scan(&newVersion)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missingOrConflict(ctx, tx, order.ID)
			}
			return err
		}
		for _, line := range order.Lines {
			if _, err := tx.Exec(ctx, `UPDATE purchase_order_lines SET
					converted_amount = $3, conversion_rate = $4,
					qty_received = $5, qty_damaged = $6, qty_returned = $7, qty_reserved = $8,
					received_amount = $9, damaged_amount = $10, returned_amount = $11
				WHERE id = $1 AND order_id = $2`,
				line.ID, order.ID, line.ConvertedAmount, line.ConversionRate,
				line.QtyReceived, line.QtyDamaged, line.QtyReturned, line.QtyReserved,
				line.ReceivedAmount, line.DamagedAmount, line.ReturnedAmount,
			); err != nil {
				return err
			}
			for _, rec := range line.Receptions {
				if _, err := tx.Exec(ctx, `INSERT INTO order_receptions
						(id, line_id, qty_received, qty_damaged, received_at, comment, recorded_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
					ON CONFLICT (id) DO NOTHING`,
					rec.ID, line.ID, rec.QtyReceived, rec.QtyDamaged, rec.ReceivedAt, rec.Comment, rec.RecordedAt,
				); err != nil {
					return err
				}
			}
			for _, ret := range line.Returns {
				if _, err := tx.Exec(ctx, `INSERT INTO order_returns
						(id, line_id, quantity, motive, status, requested_at, decided_at, processed_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
					ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
						decided_at = EXCLUDED.decided_at, processed_at = EXCLUDED.processed_at`,
					ret.ID, line.ID, ret.Quantity, ret.Motive, string(ret.Status), ret.RequestedAt,
					timestamptzParam(ret.DecidedAt), timestamptzParam(ret.ProcessedAt),
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			return 0, &ConcurrentModificationError{OrderID: order.ID}
		}
		if _, ok := AsBusinessError(err); ok {
			return 0, err
		}
		return 0, fmt.Errorf("procurement: save order: %w", err)
	}
	return newVersion, nil
}

func (r *Repository) missingOrConflict(ctx context.Context, tx pgx.Tx, id int64) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return &NotFoundError{Entity: "order", ID: formatID(id)}
	}
	return &ConcurrentModificationError{OrderID: id}
}

// ListOrders returns order summaries with line counts.
func (r *Repository) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]OrderSummary, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1
	if filters.Status != "" {
		where += ` AND o.status = $` + itoa(argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.SupplierRef != "" {
		where += ` AND o.supplier_ref = $` + itoa(argNum)
		args = append(args, filters.SupplierRef)
		argNum++
	}
	if filters.Search != "" {
		where += ` AND o.reference ILIKE $` + itoa(argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders o`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT o.id, o.reference, o.supplier_ref, o.status, o.settlement_currency,
		o.estimated_delivery, o.ordered_amount, o.net_amount, o.created_at,
		(SELECT COUNT(*) FROM purchase_order_lines l WHERE l.order_id = o.id) AS line_count
	FROM purchase_orders o` + where +
		` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir) +
		` LIMIT $` + itoa(argNum) + ` OFFSET $` + itoa(argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []OrderSummary{}
	for rows.Next() {
		var (
			item      OrderSummary
			status    string
			estimated pgtype.Date
		)
		if err := rows.Scan(&item.ID, &item.Reference, &item.SupplierRef, &status, &item.SettlementCurrency,
			&estimated, &item.OrderedAmount, &item.NetAmount, &item.CreatedAt, &item.LineCount); err != nil {
			return nil, 0, err
		}
		item.Status = OrderStatus(status)
		if estimated.Valid {
			item.EstimatedDelivery = estimated.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// itoa converts int to string for dynamic query building.
func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}

// sortOrder returns a safe ORDER BY clause for order listings.
func sortOrder(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "reference":
		return "o.reference " + dir
	case "supplier":
		return "o.supplier_ref " + dir
	case "estimated_delivery":
		return "o.estimated_delivery " + dir
	case "total":
		return "o.ordered_amount " + dir
	case "status":
		return "o.status " + dir
	default:
		return "o.created_at DESC, o.id DESC"
	}
}

func dateParam(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}

func timestamptzParam(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
