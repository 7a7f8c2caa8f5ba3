package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// requireSameOrigin rejects state-changing requests that a browser sent
// from another site. Basic auth credentials are attached by the browser
// automatically, so a cross-site form could otherwise trigger them.
// Requests without Sec-Fetch-Site, Origin or Referer come from non-browser
// clients and pass.
func requireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Sec-Fetch-Site") {
		case "", "same-origin", "none":
		default:
			rejectCrossOrigin(w, r, "sec-fetch-site "+r.Header.Get("Sec-Fetch-Site"))
			return
		}

		source := r.Header.Get("Origin")
		if source == "" {
			source = r.Header.Get("Referer")
		}
		if source == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, err := url.Parse(source)
		if err != nil || u.Host != r.Host {
			rejectCrossOrigin(w, r, source)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rejectCrossOrigin(w http.ResponseWriter, r *http.Request, source string) {
	slog.Warn("rejected cross-origin request", "path", r.URL.Path, "source", source, "remote", r.RemoteAddr)
	http.Error(w, "cross-origin request rejected", http.StatusForbidden)
}

// handleReindex scans the results directory and indexes every result file
// found there, then redirects back to the list.
func (h *Handler) handleReindex(w http.ResponseWriter, r *http.Request) {
	if h.config.ResultsDir == "" {
		http.Error(w, "no results directory configured", http.StatusBadRequest)
		return
	}
	n, err := h.store.ImportResultDir(h.config.ResultsDir)
	if err != nil {
		slog.Error("reindex failed", "dir", h.config.ResultsDir, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.path("/?reindexed="+strconv.Itoa(n)), http.StatusSeeOther)
}
