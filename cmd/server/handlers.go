package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/dreamware/lumo/internal/orchestrator"
	"github.com/dreamware/lumo/internal/registry"
	"github.com/dreamware/lumo/internal/store"
)

// gameControl is the slice of the orchestrator the HTTP surface needs.
// Narrowed to an interface so handler tests run without a broker.
type gameControl interface {
	StartGame(ctx context.Context) (orchestrator.StartResult, error)
	Login(ctx context.Context, username, controllerID string) error
}

type server struct {
	game gameControl
	reg  *registry.Registry
	st   store.Store
}

func newServer(game gameControl, reg *registry.Registry, st store.Store) *server {
	return &server{game: game, reg: reg, st: st}
}

// handleLogin binds a player to a controller from the frontend login form.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username     string `json:"username"`
		ControllerID string `json:"controllerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.ControllerID == "" {
		http.Error(w, "missing username/controllerId", http.StatusBadRequest)
		return
	}

	err := s.game.Login(r.Context(), req.Username, req.ControllerID)
	switch {
	case errors.Is(err, store.ErrControllerBusy):
		http.Error(w, "controller already in use", http.StatusConflict)
		return
	case err != nil:
		log.Printf("server: login %s/%s failed: %v", req.Username, req.ControllerID, err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		Message string `json:"message"`
	}{Message: "login successful"})
}

// handleGenerateSequence starts a new game for every active controller.
// Starting with none connected is a reported no-op, not an error.
func (s *server) handleGenerateSequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := s.game.StartGame(r.Context())
	if err != nil {
		log.Printf("server: start game failed: %v", err)
		http.Error(w, "start failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

// handleListControllers returns the registry's view of every known
// controller, with liveness evaluated at request time.
func (s *server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type controllerView struct {
		ID        string `json:"id"`
		Connected bool   `json:"connected"`
		Assigned  bool   `json:"assigned"`
		Live      bool   `json:"live"`
	}

	snapshot := s.reg.Snapshot()
	out := make([]controllerView, 0, len(snapshot))
	for _, c := range snapshot {
		out = append(out, controllerView{
			ID:        c.ID,
			Connected: c.Connected,
			Assigned:  c.Assigned,
			Live:      s.reg.IsLive(c.ID),
		})
	}

	writeJSON(w, struct {
		Controllers []controllerView `json:"controllers"`
	}{Controllers: out})
}

// handleRoundWinner returns the leader of the latest round that has any
// scores recorded.
func (s *server) handleRoundWinner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	winner, err := s.st.RoundWinner(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no rounds played yet", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("server: round winner query failed: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		Round    int    `json:"round"`
		Username string `json:"username"`
		Points   int    `json:"points"`
	}{Round: winner.Round, Username: winner.Username, Points: winner.Points})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
