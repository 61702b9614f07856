package relay

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Lookup returns the channel key of each request, creating the missing ones,
// along with the number of peers in the channel.
func (s *Server) Lookup(reqs []KeyRequest) Keys {
	s.Lock()
	defer s.Unlock()

	res := make(Keys)
	for _, req := range reqs {
		key, ok := s.keys[req]
		if !ok {
			key = uuid.NewString()
			s.keys[req] = key
		}
		users := 0
		if ch, ok := s.channels[key]; ok {
			users = ch.size()
		}
		res.set(req, KeyInfo{Key: key, Users: users})
	}
	return res
}

// Rotate forgets the key of req. Peers still in the old channel keep
// talking there; new lookups get a fresh key.
func (s *Server) Rotate(req KeyRequest) {
	s.Lock()
	defer s.Unlock()

	delete(s.keys, req)
}

func (s *Server) keysHandler(w http.ResponseWriter, r *http.Request) {
	var reqs []KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "Bad format", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Lookup(reqs)); err != nil {
		s.logger.Println(err)
	}
}
