package i18n

import "net/http"

type langKey struct{}

// Middleware picks a language per request from the lang query parameter,
// then the Accept-Language header, and injects its localizer into the
// request context. Languages that were not loaded fall back to defaultLang.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), defaultLang)
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang))
			ctx = contextWithLang(ctx, lang)
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
