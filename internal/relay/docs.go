package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ilnaes/hyperpad/internal/store"
)

func ref(r *http.Request) store.Ref {
	vars := mux.Vars(r)
	return store.Ref{Doc: vars["doc"], Locale: vars["locale"]}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Println(err)
	}
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	rev, err := s.store.Reload(r.Context(), ref(r))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case err != nil:
		s.logger.Printf("reload %v: %v", ref(r), err)
		http.Error(w, "Reload failed", http.StatusInternalServerError)
	default:
		s.writeJSON(w, http.StatusOK, rev)
	}
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad format", http.StatusBadRequest)
		return
	}

	rev, err := s.store.Save(r.Context(), ref(r), req.Content, req.Author, req.BaseVersion)
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		// hand back what is stored so the client can merge
		current, rerr := s.store.Reload(r.Context(), ref(r))
		if rerr != nil {
			http.Error(w, "Version conflict", http.StatusConflict)
			return
		}
		s.writeJSON(w, http.StatusConflict, current)
	case err != nil:
		s.logger.Printf("save %v: %v", ref(r), err)
		http.Error(w, "Save failed", http.StatusInternalServerError)
	default:
		s.writeJSON(w, http.StatusOK, rev)
	}
}
