package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"clausecli/internal/license"
	"clausecli/internal/security"
)

// NewRouter assembles the host application's local HTTP surface.
func NewRouter(gate *license.Gate, guard *security.Guard, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(GuardNotice(guard))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler)
		r.Mount("/license", NewLicenseHandler(gate, logger).Routes())
	})

	return r
}

// GuardNotice replaces all responses with a blocking notice once the tamper
// guard has escalated. Until then it is a no-op; it never interferes with
// normal request handling.
func GuardNotice(guard *security.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard != nil && guard.Tripped() {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(blockingNotice))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const blockingNotice = `<!doctype html><html><body style="padding:4em;text-align:center;font-family:sans-serif">` +
	`<h1>This application has been disabled.</h1>` +
	`<p>Tampering was detected. Restart the application to continue.</p>` +
	`</body></html>`

func healthHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
