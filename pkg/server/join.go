package server

import (
	"log/slog"
	"net/http"

	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// handleJoin registers the authenticated identity as a user and starts their
// control loop. Joining twice is a no-op.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var user types.User
	if u := s.getUser(r); u.ID != "" {
		user = u
	} else if userToRegister, ok := ctx.Value(userToRegisterContextKey).(types.User); ok {
		user = userToRegister
	}
	if user.ID == "" {
		writeJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	isNewUser := false
	if _, ok := ctx.Value(userToRegisterContextKey).(types.User); ok {
		isNewUser = true
	}

	if isNewUser {
		if err := s.storage.CreateUser(ctx, types.User{
			ID:    user.ID,
			Email: user.Email,
		}); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "join: failed to create user",
				slog.String("userID", user.ID), slog.Any("error", err))
			writeJSONError(w, "failed to create user", http.StatusInternalServerError)
			return
		}
		log.Ctx(ctx).InfoContext(ctx, "user registered", slog.String("userID", user.ID))
	}

	s.loop.Register(user.ID)
	w.WriteHeader(http.StatusOK)
}
