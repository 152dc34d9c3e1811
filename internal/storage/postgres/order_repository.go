package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const orderColumns = `
	id, user_id, customer_name, customer_email, status,
	subtotal, tax_amount, shipping_cost, total_amount, currency,
	shipping_address, billing_address, notes, payment_order_id, tracking_number,
	version, created_at, updated_at, paid_at, shipped_at, cancelled_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// addressColumn — JSONB-представление адреса.
type addressColumn struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// encodeAddress возвращает nil для отсутствующего адреса, чтобы в колонку попал NULL.
func encodeAddress(a *domain.Address) (any, error) {
	if a == nil {
		return nil, nil
	}
	raw, err := json.Marshal(addressColumn(*a))
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	return string(raw), nil
}

func decodeAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var col addressColumn
	if err := json.Unmarshal(raw, &col); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	addr := domain.Address(col)
	return &addr, nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	shipping, err := encodeAddress(order.ShippingAddr)
	if err != nil {
		return err
	}
	billing, err := encodeAddress(order.BillingAddr)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		order.ID, order.UserID, order.CustomerName, order.CustomerEmail, string(order.Status),
		order.Subtotal, order.TaxAmount, order.ShippingCost, order.TotalAmount, order.Currency,
		shipping, billing, order.Notes, order.PaymentOrderID, order.TrackingNumber,
		order.Version, order.CreatedAt, order.UpdatedAt, order.PaidAt, order.ShippedAt, order.CancelledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = insertItems(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Save обновляет заказ при совпадении версии и целиком переписывает позиции.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	shipping, err := encodeAddress(order.ShippingAddr)
	if err != nil {
		return err
	}
	billing, err := encodeAddress(order.BillingAddr)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET customer_name = $1,
		    customer_email = $2,
		    status = $3,
		    subtotal = $4,
		    tax_amount = $5,
		    shipping_cost = $6,
		    total_amount = $7,
		    shipping_address = $8,
		    billing_address = $9,
		    notes = $10,
		    payment_order_id = $11,
		    tracking_number = $12,
		    updated_at = $13,
		    paid_at = $14,
		    shipped_at = $15,
		    cancelled_at = $16,
		    version = version + 1
		WHERE id = $17
		  AND version = $18
	`,
		order.CustomerName, order.CustomerEmail, string(order.Status),
		order.Subtotal, order.TaxAmount, order.ShippingCost, order.TotalAmount,
		shipping, billing, order.Notes, order.PaymentOrderID, order.TrackingNumber,
		order.UpdatedAt, order.PaidAt, order.ShippedAt, order.CancelledAt,
		order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := orderExistsTx(ctx, tx, order.ID)
		switch {
		case existsErr != nil:
			err = existsErr
		case !exists:
			err = domain.ErrOrderNotFound
		default:
			err = domain.ErrOrderVersionConflict
		}
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if err = insertItems(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, page domain.PageRequest) ([]domain.Order, error) {
	page = page.Normalize()
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, page.Size, page.Offset())
}

func (r *orderRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func (r *orderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`
	if limit > 0 {
		return r.list(ctx, query+" LIMIT $2", string(status), limit)
	}
	return r.list(ctx, query, string(status))
}

func (r *orderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		if orders[i].Items, err = r.loadItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                       domain.Order
		status                      string
		shipping, billing           []byte
		paidAt, shippedAt, cancelAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &order.CustomerName, &order.CustomerEmail, &status,
		&order.Subtotal, &order.TaxAmount, &order.ShippingCost, &order.TotalAmount, &order.Currency,
		&shipping, &billing, &order.Notes, &order.PaymentOrderID, &order.TrackingNumber,
		&order.Version, &order.CreatedAt, &order.UpdatedAt, &paidAt, &shippedAt, &cancelAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	if !order.Status.Valid() {
		return domain.Order{}, fmt.Errorf("unknown order status %q for order %s", status, order.ID)
	}

	var err error
	if order.ShippingAddr, err = decodeAddress(shipping); err != nil {
		return domain.Order{}, err
	}
	if order.BillingAddr, err = decodeAddress(billing); err != nil {
		return domain.Order{}, err
	}

	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.PaidAt = nullTime(paidAt)
	order.ShippedAt = nullTime(shippedAt)
	order.CancelledAt = nullTime(cancelAt)
	return order, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func insertItems(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, product_name, product_sku, currency,
				quantity, unit_price, total_price, position, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			item.ID, order.ID, item.ProductID, item.ProductName, item.ProductSKU, item.Currency,
			item.Quantity, item.UnitPrice, item.TotalPrice, i, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, product_sku, currency, quantity, unit_price, total_price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.ProductName, &item.ProductSKU, &item.Currency,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
