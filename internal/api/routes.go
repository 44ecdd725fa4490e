package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Item routes
	api.HandleFunc("/items", handler.CreateItem).Methods("POST")
	api.HandleFunc("/items/{id}", handler.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}/tracked", handler.SetItemTracked).Methods("PUT")

	// Price routes
	api.HandleFunc("/prices/refresh", handler.RefreshPrice).Methods("POST")
	api.HandleFunc("/prices/refresh-all", handler.RefreshAll).Methods("POST")
	api.HandleFunc("/price-history", handler.RecordPrice).Methods("POST")
	api.HandleFunc("/items/{id}/price-history", handler.GetPriceHistory).Methods("GET")
	api.HandleFunc("/items/{id}/price", handler.GetLatestPrice).Methods("GET")

	// Inventory routes
	api.HandleFunc("/inventory", handler.CreateInventoryEntry).Methods("POST")
	api.HandleFunc("/inventory/{id}", handler.GetInventoryEntry).Methods("GET")
	api.HandleFunc("/inventory/{id}/sales", handler.ApplySale).Methods("POST")
	api.HandleFunc("/inventory/{id}/purchases", handler.ApplyPurchase).Methods("POST")
	api.HandleFunc("/inventory/{id}/transactions", handler.ListStockTransactions).Methods("GET")

	return r
}
