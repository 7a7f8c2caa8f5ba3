package handler

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const authRealm = `Basic realm="mathbench", charset="UTF-8"`

// dummyHash is compared against when the username is unknown so that a
// miss takes as long as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("mathbench"), bcrypt.DefaultCost)

// requireViewer checks HTTP basic credentials against the viewers table.
// With no viewers configured the browser is open.
func (h *Handler) requireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := h.store.ViewerCount()
		if err != nil {
			slog.Error("failed to count viewers", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if count == 0 {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			h.unauthorized(w)
			return
		}

		viewer, err := h.store.GetViewer(username)
		if err != nil {
			slog.Error("failed to get viewer", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		hash := dummyHash
		if viewer != nil {
			hash = []byte(viewer.PasswordHash)
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || viewer == nil {
			slog.Warn("rejected viewer login", "username", username, "remote", r.RemoteAddr)
			h.unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", authRealm)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
