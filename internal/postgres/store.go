package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

// Store persists engine state. Each call is one transaction; stock rows are locked
// FOR UPDATE in id order so concurrent writers never deadlock on products.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) SaveOrder(ctx context.Context, o orders.Order, stock []orders.StockChange) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(stock) > 0 {
		ids := make([]string, 0, len(stock))
		for _, c := range stock {
			ids = append(ids, c.ProductID)
		}
		rows, err := tx.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("lock products: %w", err)
		}

		for _, c := range stock {
			ct, err := tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`,
				c.ProductID, c.Stock, o.UpdatedAt)
			if err != nil {
				return fmt.Errorf("update stock %s: %w", c.ProductID, err)
			}
			if ct.RowsAffected() != 1 {
				return fmt.Errorf("update stock %s: %w", c.ProductID, orders.ErrProductUnknown)
			}
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, status, discount, total, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, discount = EXCLUDED.discount,
		    total = EXCLUDED.total, updated_at = EXCLUDED.updated_at
	`, o.ID, string(o.Status), o.Discount.String(), o.Total.String(), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, o.ID); err != nil {
		return fmt.Errorf("clear items of %s: %w", o.ID, err)
	}
	for i, it := range o.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, position, qty, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
			it.ID, o.ID, it.ProductID, i, it.Qty, it.UnitPrice.String(), it.Subtotal.String(),
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order %s: %w", o.ID, err)
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return nil
}

func (s *Store) SaveProduct(ctx context.Context, p orders.Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, sku, name, price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET sku = EXCLUDED.sku, name = EXCLUDED.name, price = EXCLUDED.price,
		    stock = EXCLUDED.stock, updated_at = EXCLUDED.updated_at
	`, p.ID, p.SKU, p.Name, p.Price.String(), p.Stock, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) LoadProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, sku, name, price::text, stock, created_at, updated_at
	                              FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		var price string
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("product %s price: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadOrders returns every order with its items in insertion order.
func (s *Store) LoadOrders(ctx context.Context) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, status, discount::text, total::text, created_at, updated_at
	                              FROM orders ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	var out []orders.Order
	idx := map[string]int{}
	for rows.Next() {
		var o orders.Order
		var status, discount, total string
		if err := rows.Scan(&o.ID, &status, &discount, &total, &o.CreatedAt, &o.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = orders.Status(status)
		if o.Discount, err = decimal.NewFromString(discount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("order %s discount: %w", o.ID, err)
		}
		if o.Total, err = decimal.NewFromString(total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("order %s total: %w", o.ID, err)
		}
		o.Items = []orders.LineItem{}
		idx[o.ID] = len(out)
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	items, err := s.DB.Query(ctx, `SELECT id, order_id, product_id, qty, unit_price::text, subtotal::text
	                               FROM order_items ORDER BY order_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer items.Close()
	for items.Next() {
		var it orders.LineItem
		var unit, sub string
		if err := items.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &unit, &sub); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, fmt.Errorf("item %s unit price: %w", it.ID, err)
		}
		if it.Subtotal, err = decimal.NewFromString(sub); err != nil {
			return nil, fmt.Errorf("item %s subtotal: %w", it.ID, err)
		}
		i, ok := idx[it.OrderID]
		if !ok {
			return nil, fmt.Errorf("item %s: %w", it.ID, orders.ErrOrderNotFound)
		}
		out[i].Items = append(out[i].Items, it)
	}
	return out, items.Err()
}
