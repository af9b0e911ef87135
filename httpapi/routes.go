package httpapi

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Item operations
	router.HandleFunc("/entities/{entity}/items", h.HandleCreate).Methods("POST")
	router.HandleFunc("/entities/{entity}/items", h.HandleFind).Methods("GET")
	router.HandleFunc("/entities/{entity}/items", h.HandleUpdate).Methods("PATCH")
	router.HandleFunc("/entities/{entity}/items", h.HandleDelete).Methods("DELETE")
	router.HandleFunc("/entities/{entity}/items/{id}", h.HandleGetByID).Methods("GET")

	// Diagnostics
	router.HandleFunc("/entities/{entity}/explain", h.HandleExplain).Methods("GET")
}
