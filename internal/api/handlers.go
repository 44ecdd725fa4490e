package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/trogers1052/item-price-sync/internal/ledger"
	"github.com/trogers1052/item-price-sync/internal/models"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// ItemStore manages tradable items
type ItemStore interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	SetItemTracked(ctx context.Context, id int64, tracked bool) error
}

// PriceRecorder appends a price history record
type PriceRecorder interface {
	RecordPrice(ctx context.Context, record *models.PriceHistoryRecord) error
}

// PriceStore is the price history ledger
type PriceStore interface {
	PriceRecorder
	GetPriceHistory(ctx context.Context, itemID int64, limit int) ([]*models.PriceHistoryRecord, error)
	LatestPrice(ctx context.Context, itemID int64) (*models.PriceHistoryRecord, error)
}

// PriceCache serves latest prices ahead of the price store
type PriceCache interface {
	GetLatest(ctx context.Context, itemID int64) (*models.PriceHistoryRecord, error)
}

// InventoryStore reads and creates inventory entries and their ledgers
type InventoryStore interface {
	CreateInventoryEntry(ctx context.Context, e *models.InventoryEntry, openingPrice decimal.Decimal) error
	GetInventoryEntry(ctx context.Context, id int64) (*models.InventoryEntry, error)
	ListStockTransactions(ctx context.Context, inventoryEntryID int64, limit int) ([]*models.StockTransaction, error)
}

// StockLedger applies sales and purchases
type StockLedger interface {
	ApplySale(ctx context.Context, m ledger.Mutation) (*models.StockTransaction, error)
	ApplyPurchase(ctx context.Context, m ledger.Mutation) (*models.StockTransaction, error)
}

// RequestPublisher enqueues a single refresh request
type RequestPublisher interface {
	PublishRefreshRequest(ctx context.Context, req models.PriceRefreshRequest) error
}

// BulkRefresher enqueues refresh requests for every tracked item
type BulkRefresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Dependencies wires the handler to its collaborators. Cache may be nil;
// Recorder defaults to Prices.
type Dependencies struct {
	Items     ItemStore
	Prices    PriceStore
	Recorder  PriceRecorder
	Cache     PriceCache
	Inventory InventoryStore
	Ledger    StockLedger
	Publisher RequestPublisher
	Refresher BulkRefresher
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	deps   Dependencies
	logger *logrus.Logger
}

// NewHandler creates a new Handler
func NewHandler(deps Dependencies, logger *logrus.Logger) *Handler {
	if deps.Recorder == nil {
		deps.Recorder = deps.Prices
	}
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateItem handles POST /items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string `json:"name"`
		MarketHashName string `json:"market_hash_name"`
		Tracked        *bool  `json:"tracked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, badRequest("invalid request body"))
		return
	}
	if req.MarketHashName == "" {
		respondError(w, badRequest("market_hash_name is required"))
		return
	}

	item := &models.Item{
		Name:           req.Name,
		MarketHashName: req.MarketHashName,
		Tracked:        req.Tracked == nil || *req.Tracked,
	}
	if item.Name == "" {
		item.Name = item.MarketHashName
	}
	if err := h.deps.Items.CreateItem(r.Context(), item); err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

// GetItem handles GET /items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	item, err := h.deps.Items.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// SetItemTracked handles PUT /items/{id}/tracked
func (h *Handler) SetItemTracked(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Tracked *bool `json:"tracked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tracked == nil {
		respondError(w, badRequest("tracked is required"))
		return
	}

	if err := h.deps.Items.SetItemTracked(r.Context(), id, *req.Tracked); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshPrice handles POST /prices/refresh
func (h *Handler) RefreshPrice(w http.ResponseWriter, r *http.Request) {
	var req models.PriceRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, badRequest("invalid request body"))
		return
	}
	if req.ItemID <= 0 || req.MarketHashName == "" {
		respondError(w, badRequest("item_id and market_hash_name are required"))
		return
	}

	item, err := h.deps.Items.GetItem(r.Context(), req.ItemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if item.MarketHashName != req.MarketHashName {
		respondError(w, badRequest("market_hash_name does not match item"))
		return
	}

	if err := h.deps.Publisher.PublishRefreshRequest(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}

// RefreshAll handles POST /prices/refresh-all
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Refresher.RefreshAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

// RecordPrice handles POST /price-history
func (h *Handler) RecordPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID    int64            `json:"item_id"`
		Price     *decimal.Decimal `json:"price"`
		Timestamp *time.Time       `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, badRequest("invalid request body"))
		return
	}
	if req.ItemID <= 0 {
		respondError(w, badRequest("item_id is required"))
		return
	}
	if req.Price == nil || req.Price.IsNegative() {
		respondError(w, badRequest("price must be a non-negative number"))
		return
	}

	if _, err := h.deps.Items.GetItem(r.Context(), req.ItemID); err != nil {
		h.fail(w, r, err)
		return
	}

	record := &models.PriceHistoryRecord{
		ItemID:     req.ItemID,
		Price:      *req.Price,
		RecordedAt: time.Now().UTC(),
	}
	if req.Timestamp != nil {
		record.RecordedAt = *req.Timestamp
	}

	if err := h.deps.Recorder.RecordPrice(r.Context(), record); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

// GetPriceHistory handles GET /items/{id}/price-history
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, err)
		return
	}

	records, err := h.deps.Prices.GetPriceHistory(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*models.PriceHistoryRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// GetLatestPrice handles GET /items/{id}/price
func (h *Handler) GetLatestPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if h.deps.Cache != nil {
		record, err := h.deps.Cache.GetLatest(r.Context(), id)
		if err == nil {
			respondJSON(w, http.StatusOK, record)
			return
		}
		h.logger.WithError(err).WithField("item_id", id).Debug("Latest price not served from cache")
	}

	record, err := h.deps.Prices.LatestPrice(r.Context(), id)
	if errors.Is(err, ledger.ErrPriceUnavailable) {
		respondError(w, &apiError{status: http.StatusNotFound, kind: "not_found", message: err.Error()})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// CreateInventoryEntry handles POST /inventory
func (h *Handler) CreateInventoryEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   int64            `json:"item_id"`
		UserID   string           `json:"user_id"`
		Quantity int64            `json:"quantity"`
		Price    *decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, badRequest("invalid request body"))
		return
	}
	if req.ItemID <= 0 || req.UserID == "" {
		respondError(w, badRequest("item_id and user_id are required"))
		return
	}
	if req.Quantity < 0 {
		respondError(w, badRequest("quantity must not be negative"))
		return
	}
	openingPrice := decimal.Zero
	if req.Price != nil {
		if req.Price.IsNegative() {
			respondError(w, badRequest("price must not be negative"))
			return
		}
		openingPrice = *req.Price
	}

	if _, err := h.deps.Items.GetItem(r.Context(), req.ItemID); err != nil {
		h.fail(w, r, err)
		return
	}

	entry := &models.InventoryEntry{
		ItemID:         req.ItemID,
		UserID:         req.UserID,
		QuantityOnHand: req.Quantity,
	}
	if err := h.deps.Inventory.CreateInventoryEntry(r.Context(), entry, openingPrice); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// GetInventoryEntry handles GET /inventory/{id}
func (h *Handler) GetInventoryEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	entry, err := h.deps.Inventory.GetInventoryEntry(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// ApplySale handles POST /inventory/{id}/sales
func (h *Handler) ApplySale(w http.ResponseWriter, r *http.Request) {
	h.applyMutation(w, r, h.deps.Ledger.ApplySale)
}

// ApplyPurchase handles POST /inventory/{id}/purchases
func (h *Handler) ApplyPurchase(w http.ResponseWriter, r *http.Request) {
	h.applyMutation(w, r, h.deps.Ledger.ApplyPurchase)
}

func (h *Handler) applyMutation(w http.ResponseWriter, r *http.Request, apply func(context.Context, ledger.Mutation) (*models.StockTransaction, error)) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Quantity  int64            `json:"quantity"`
		Price     *decimal.Decimal `json:"price"`
		Timestamp *time.Time       `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, badRequest("invalid request body"))
		return
	}

	m := ledger.Mutation{
		InventoryEntryID: id,
		Quantity:         req.Quantity,
		Price:            req.Price,
	}
	if req.Timestamp != nil {
		m.ExecutedAt = *req.Timestamp
	}

	txn, err := apply(r.Context(), m)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

// ListStockTransactions handles GET /inventory/{id}/transactions
func (h *Handler) ListStockTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if _, err := h.deps.Inventory.GetInventoryEntry(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	transactions, err := h.deps.Inventory.ListStockTransactions(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if transactions == nil {
		transactions = []*models.StockTransaction{}
	}
	respondJSON(w, http.StatusOK, transactions)
}

// fail maps err to a response and logs server-side failures
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := classify(err)
	if apiErr.status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}
	respondError(w, apiErr)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("id must be a positive integer")
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, badRequest("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
