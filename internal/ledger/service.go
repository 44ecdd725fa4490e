package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/trogers1052/item-price-sync/internal/models"
)

// Store is the transactional storage behind the ledger
type Store interface {
	GetInventoryEntry(ctx context.Context, id int64) (*models.InventoryEntry, error)
	LatestPrice(ctx context.Context, itemID int64) (*models.PriceHistoryRecord, error)
	// ApplyStockTransaction adjusts the entry's on-hand quantity and appends
	// t to the ledger in a single database transaction.
	ApplyStockTransaction(ctx context.Context, t *models.StockTransaction) (*models.InventoryEntry, error)
}

// Mutation describes a sale or purchase against one inventory entry.
// A nil Price means "use the latest recorded market price".
type Mutation struct {
	InventoryEntryID int64
	Quantity         int64
	Price            *decimal.Decimal
	ExecutedAt       time.Time
}

// Service applies sales and purchases as all-or-nothing units
type Service struct {
	store  Store
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates a ledger service
func NewService(store Store, logger *logrus.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// ApplySale removes quantity from the entry and records a SALE
func (s *Service) ApplySale(ctx context.Context, m Mutation) (*models.StockTransaction, error) {
	return s.apply(ctx, models.TransactionKindSale, m)
}

// ApplyPurchase adds quantity to the entry and records a PURCHASE
func (s *Service) ApplyPurchase(ctx context.Context, m Mutation) (*models.StockTransaction, error) {
	return s.apply(ctx, models.TransactionKindPurchase, m)
}

func (s *Service) apply(ctx context.Context, kind string, m Mutation) (*models.StockTransaction, error) {
	if m.Quantity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, m.Quantity)
	}

	price, err := s.resolvePrice(ctx, m)
	if err != nil {
		return nil, err
	}

	executedAt := m.ExecutedAt
	if executedAt.IsZero() {
		executedAt = s.now()
	}

	t := &models.StockTransaction{
		InventoryEntryID: m.InventoryEntryID,
		Kind:             kind,
		Quantity:         m.Quantity,
		Price:            price,
		ExecutedAt:       executedAt,
	}

	entry, err := s.store.ApplyStockTransaction(ctx, t)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"inventory_entry_id": entry.ID,
		"kind":               kind,
		"quantity":           t.Quantity,
		"price":              t.Price.String(),
		"quantity_on_hand":   entry.QuantityOnHand,
	}).Info("Applied stock transaction")

	return t, nil
}

func (s *Service) resolvePrice(ctx context.Context, m Mutation) (decimal.Decimal, error) {
	if m.Price != nil {
		if m.Price.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: got %s", ErrInvalidPrice, m.Price)
		}
		return *m.Price, nil
	}

	entry, err := s.store.GetInventoryEntry(ctx, m.InventoryEntryID)
	if err != nil {
		return decimal.Zero, err
	}
	latest, err := s.store.LatestPrice(ctx, entry.ItemID)
	if err != nil {
		return decimal.Zero, err
	}
	return latest.Price, nil
}
