package server

import (
	"net/http"

	"github.com/alwayssunny/alwayssunny/pkg/loop"
)

// handleStatus returns the live dashboard view. Requesting status also
// (re)registers the user's control loop, so a loop lost to a restart comes
// back the first time the dashboard loads.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "missing authentication", http.StatusUnauthorized)
		return
	}

	s.loop.Register(user.ID)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, loop.ProjectStatus(s.loop.GetState(user.ID)))
}
