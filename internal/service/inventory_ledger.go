package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/txn"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// batchLockName serializes every batch update, whatever items it touches
const batchLockName = "inventory_batch"

// postCommitTimeout bounds alerting and restock work after a stock change commits
const postCommitTimeout = 10 * time.Second

// LedgerConfig holds the stock alert thresholds
type LedgerConfig struct {
	LowThreshold      int
	CriticalThreshold int
}

// DefaultLedgerConfig returns low = 10, critical = 5
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{LowThreshold: 10, CriticalThreshold: 5}
}

// InventoryLedger changes stock counts under per-item locks and reacts to
// threshold crossings once the change is committed.
type InventoryLedger struct {
	coord    *txn.Coordinator
	reader   *store.Store
	alerts   AlertSink
	notifier Notifier
	cfg      LedgerConfig
	logger   *zap.Logger
}

// NewInventoryLedger creates a ledger. reader serves lock-free lookups; nil
// alerts or notifier disable that side effect.
func NewInventoryLedger(coord *txn.Coordinator, reader *store.Store, alerts AlertSink, notifier Notifier, cfg LedgerConfig) *InventoryLedger {
	if alerts == nil {
		alerts = nopAlertSink{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &InventoryLedger{
		coord:    coord,
		reader:   reader,
		alerts:   alerts,
		notifier: notifier,
		cfg:      cfg,
		logger:   util.GetLogger().Named("inventory_ledger"),
	}
}

func inventoryLockName(itemID int64) string {
	return fmt.Sprintf("inventory_%d", itemID)
}

func validateUpdate(u models.StockUpdate) error {
	if u.Quantity <= 0 {
		return apperr.Validation("quantity must be positive, got %d", u.Quantity)
	}
	if !u.Operation.IsValid() {
		return apperr.Validation("unknown stock operation %q", u.Operation)
	}
	return nil
}

// applyOperation returns the quantity after op, refusing to go below zero
func applyOperation(item *models.StockItem, quantity int, op models.StockOperation) (int, error) {
	if op == models.StockAdd {
		return item.Quantity + quantity, nil
	}
	if item.Quantity < quantity {
		return 0, apperr.InsufficientStock("item %d has %d, cannot subtract %d", item.ID, item.Quantity, quantity)
	}
	return item.Quantity - quantity, nil
}

// UpdateStock adds to or subtracts from one item and returns the new quantity
func (l *InventoryLedger) UpdateStock(ctx context.Context, itemID int64, quantity int, op models.StockOperation) (newQty int, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.UpdateStock",
		attribute.Int64("item_id", itemID),
		attribute.String("operation", string(op)))
	defer func() { util.EndSpan(span, err) }()

	if err := validateUpdate(models.StockUpdate{ItemID: itemID, Quantity: quantity, Operation: op}); err != nil {
		return 0, err
	}

	var updated models.StockItem
	err = l.coord.Run(ctx, inventoryLockName(itemID), func(ctx context.Context, u *txn.Unit) error {
		item, err := u.Store().GetStockItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		qty, err := applyOperation(item, quantity, op)
		if err != nil {
			return err
		}
		if err := u.Store().SetStockQuantity(ctx, itemID, qty); err != nil {
			return err
		}
		item.Quantity = qty
		updated = *item
		return nil
	})
	if err != nil {
		util.StockUpdatesTotal.WithLabelValues(string(op), util.ErrorReason(string(apperr.CodeOf(err)))).Inc()
		l.logger.Warn("Stock update rejected",
			zap.Int64("item_id", itemID),
			zap.Int("quantity", quantity),
			zap.String("operation", string(op)),
			zap.Error(err))
		return 0, err
	}
	util.StockUpdatesTotal.WithLabelValues(string(op), "ok").Inc()

	l.logger.Info("Stock updated",
		zap.Int64("item_id", itemID),
		zap.String("operation", string(op)),
		zap.Int("quantity", updated.Quantity))

	l.afterCommit(ctx, updated)
	return updated.Quantity, nil
}

// BatchUpdateStock applies updates in order as one unit: either all of them
// commit or none do. Returns the final state of each touched item in first-seen order.
func (l *InventoryLedger) BatchUpdateStock(ctx context.Context, updates []models.StockUpdate) (items []models.StockItem, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.BatchUpdateStock",
		attribute.Int("updates", len(updates)))
	defer func() { util.EndSpan(span, err) }()

	if len(updates) == 0 {
		return nil, apperr.Validation("batch contains no updates")
	}
	for i, u := range updates {
		if err := validateUpdate(u); err != nil {
			return nil, apperr.Validation("update %d: %v", i, err)
		}
	}

	err = l.coord.Run(ctx, batchLockName, func(ctx context.Context, u *txn.Unit) error {
		touched := make(map[int64]*models.StockItem)
		var order []int64

		for _, upd := range updates {
			item, ok := touched[upd.ItemID]
			if !ok {
				loaded, err := u.Store().GetStockItemForUpdate(ctx, upd.ItemID)
				if err != nil {
					return err
				}
				item = loaded
				touched[upd.ItemID] = item
				order = append(order, upd.ItemID)
			}

			qty, err := applyOperation(item, upd.Quantity, upd.Operation)
			if err != nil {
				return err
			}
			if err := u.Store().SetStockQuantity(ctx, upd.ItemID, qty); err != nil {
				return err
			}
			item.Quantity = qty
		}

		items = make([]models.StockItem, 0, len(order))
		for _, id := range order {
			items = append(items, *touched[id])
		}
		return nil
	})
	if err != nil {
		util.StockUpdatesTotal.WithLabelValues("batch", util.ErrorReason(string(apperr.CodeOf(err)))).Inc()
		l.logger.Warn("Batch stock update rolled back", zap.Int("updates", len(updates)), zap.Error(err))
		return nil, err
	}
	util.StockUpdatesTotal.WithLabelValues("batch", "ok").Inc()

	for _, item := range items {
		l.afterCommit(ctx, item)
	}
	return items, nil
}

// GetStockStatus returns one item with its derived level, without locking
func (l *InventoryLedger) GetStockStatus(ctx context.Context, itemID int64) (*models.StockStatus, error) {
	item, err := l.reader.GetStockItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	restock, err := l.reader.GetRestockOrder(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if restock != nil && restock.Status != models.RestockStatusPending {
		restock = nil
	}

	status := &models.StockStatus{
		StockItem:      *item,
		Level:          l.evaluate(*item).Level,
		PendingRestock: restock,
	}
	return status, nil
}

// ListStockStatus returns every item, lowest quantity first
func (l *InventoryLedger) ListStockStatus(ctx context.Context) ([]models.StockStatus, error) {
	items, err := l.reader.ListStockItems(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := l.reader.ListPendingRestockOrders(ctx)
	if err != nil {
		return nil, err
	}
	byItem := make(map[int64]*models.RestockOrder, len(pending))
	for i := range pending {
		byItem[pending[i].ItemID] = &pending[i]
	}

	out := make([]models.StockStatus, 0, len(items))
	for _, item := range items {
		out = append(out, models.StockStatus{
			StockItem:      item,
			Level:          l.evaluate(item).Level,
			PendingRestock: byItem[item.ID],
		})
	}
	return out, nil
}

type thresholdOutcome struct {
	Level           string
	Threshold       int
	Restock         bool
	RestockQuantity int
}

func (l *InventoryLedger) evaluate(item models.StockItem) thresholdOutcome {
	return evaluateThresholds(item, l.cfg.LowThreshold, l.cfg.CriticalThreshold)
}

// evaluateThresholds classifies item.Quantity. An item's own critical threshold
// overrides the configured one when set. Reaching the critical level or the
// reorder point asks for restock up to twice the reorder point.
func evaluateThresholds(item models.StockItem, low, critical int) thresholdOutcome {
	if item.CriticalThreshold > 0 {
		critical = item.CriticalThreshold
	}

	out := thresholdOutcome{Level: models.StockLevelOK}
	switch {
	case item.Quantity <= critical:
		out.Level = models.StockLevelCritical
		out.Threshold = critical
		out.Restock = true
	case item.Quantity <= low:
		out.Level = models.StockLevelLow
		out.Threshold = low
	}
	if item.Quantity <= item.ReorderPoint {
		out.Restock = true
	}

	if out.Restock {
		out.RestockQuantity = item.ReorderPoint*2 - item.Quantity
		if out.RestockQuantity <= 0 {
			out.RestockQuantity = max(item.ReorderPoint, 1)
		}
	}
	return out
}

// afterCommit raises alerts, files restock requests and broadcasts the change.
// Nothing here can undo the committed update; failures are logged.
func (l *InventoryLedger) afterCommit(ctx context.Context, item models.StockItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	outcome := l.evaluate(item)

	switch outcome.Level {
	case models.StockLevelCritical:
		l.raise(ctx, models.AlertCriticalStock, models.SeverityCritical, item, outcome.Threshold)
	case models.StockLevelLow:
		l.raise(ctx, models.AlertLowStock, models.SeverityWarning, item, outcome.Threshold)
	}

	if outcome.Restock {
		if err := l.requestRestock(ctx, item.ID, outcome.RestockQuantity); err != nil {
			l.logger.Error("Failed to request restock",
				zap.Int64("item_id", item.ID),
				zap.Int("quantity", outcome.RestockQuantity),
				zap.Error(err))
		}
	}

	notification := models.InventoryUpdatedNotification{
		ItemID:   item.ID,
		Name:     item.Name,
		Quantity: item.Quantity,
		Level:    outcome.Level,
	}
	if err := l.notifier.Publish(ctx, models.TopicInventoryUpdated, notification); err != nil {
		l.logger.Warn("Failed to broadcast inventory update", zap.Int64("item_id", item.ID), zap.Error(err))
	}
}

func (l *InventoryLedger) raise(ctx context.Context, alertType string, severity models.Severity, item models.StockItem, threshold int) {
	util.StockAlertsTotal.WithLabelValues(string(severity)).Inc()

	details := map[string]any{
		"item_id":   item.ID,
		"name":      item.Name,
		"quantity":  item.Quantity,
		"threshold": threshold,
	}
	if err := l.alerts.Raise(ctx, alertType, severity, details); err != nil {
		l.logger.Warn("Failed to raise stock alert",
			zap.String("alert_type", alertType),
			zap.Int64("item_id", item.ID),
			zap.Error(err))
	}
}

// requestRestock upserts the single restock request of an item in its own unit of work
func (l *InventoryLedger) requestRestock(ctx context.Context, itemID int64, quantity int) error {
	err := l.coord.Run(ctx, "", func(ctx context.Context, u *txn.Unit) error {
		return u.Store().UpsertRestockOrder(ctx, itemID, quantity)
	})
	if err != nil {
		return err
	}
	util.RestockRequestsTotal.Inc()
	l.logger.Info("Restock requested", zap.Int64("item_id", itemID), zap.Int("quantity", quantity))
	return nil
}
