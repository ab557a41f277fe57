package store

import (
	"context"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const stockItemColumns = "id, name, quantity, reorder_point, critical_threshold, updated_at"

// GetStockItem retrieves an item without locking
func (s *Store) GetStockItem(ctx context.Context, id int64) (*models.StockItem, error) {
	return s.getStockItem(ctx, "SELECT "+stockItemColumns+" FROM inventory_items WHERE id = $1", id)
}

// GetStockItemForUpdate retrieves an item and locks its row until the transaction ends
func (s *Store) GetStockItemForUpdate(ctx context.Context, id int64) (*models.StockItem, error) {
	return s.getStockItem(ctx, "SELECT "+stockItemColumns+" FROM inventory_items WHERE id = $1 FOR UPDATE", id)
}

func (s *Store) getStockItem(ctx context.Context, query string, id int64) (*models.StockItem, error) {
	var item models.StockItem
	err := sqlx.GetContext(ctx, s.db, &item, query, id)
	if isNoRows(err) {
		return nil, apperr.NotFound("inventory item not found: %d", id)
	}
	if err != nil {
		return nil, wrapErr(err, "get inventory item")
	}
	return &item, nil
}

// ListStockItems returns every item, lowest quantity first
func (s *Store) ListStockItems(ctx context.Context) ([]models.StockItem, error) {
	items := []models.StockItem{}
	err := sqlx.SelectContext(ctx, s.db, &items,
		"SELECT "+stockItemColumns+" FROM inventory_items ORDER BY quantity ASC, id ASC")
	if err != nil {
		return nil, wrapErr(err, "list inventory items")
	}
	return items, nil
}

// SetStockQuantity persists a new quantity for an item
func (s *Store) SetStockQuantity(ctx context.Context, id int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inventory_items SET quantity = $1, updated_at = NOW() WHERE id = $2",
		quantity, id)
	if err != nil {
		return wrapErr(err, "update inventory quantity")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("inventory item not found: %d", id)
	}
	return nil
}

// UpsertRestockOrder creates or refreshes the single pending restock request for an item
func (s *Store) UpsertRestockOrder(ctx context.Context, itemID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO restock_orders (item_id, quantity_requested, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (item_id) DO UPDATE
		SET quantity_requested = EXCLUDED.quantity_requested,
		    status = EXCLUDED.status,
		    updated_at = NOW()`,
		itemID, quantity, models.RestockStatusPending)
	return wrapErr(err, "upsert restock order")
}

// GetRestockOrder returns the restock request for an item, or nil if there is none
func (s *Store) GetRestockOrder(ctx context.Context, itemID int64) (*models.RestockOrder, error) {
	var order models.RestockOrder
	err := sqlx.GetContext(ctx, s.db, &order, `
		SELECT id, item_id, quantity_requested, status, created_at, updated_at
		FROM restock_orders WHERE item_id = $1`, itemID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "get restock order")
	}
	return &order, nil
}

// ListPendingRestockOrders returns every restock request still awaiting fulfilment
func (s *Store) ListPendingRestockOrders(ctx context.Context) ([]models.RestockOrder, error) {
	orders := []models.RestockOrder{}
	err := sqlx.SelectContext(ctx, s.db, &orders, `
		SELECT id, item_id, quantity_requested, status, created_at, updated_at
		FROM restock_orders WHERE status = $1 ORDER BY item_id`, models.RestockStatusPending)
	if err != nil {
		return nil, wrapErr(err, "list restock orders")
	}
	return orders, nil
}
