package newsletters

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"newsletter-service/api/pkg/apperr"
	"newsletter-service/api/pkg/middleware"
)

// maxIssueBody limits the size of a published issue.
const maxIssueBody = 1 << 20 // 1MB

// LoadRoutes mounts POST /admin/newsletters behind the admin bearer token.
func (d *Dispatcher) LoadRoutes(parentRouter *mux.Router, adminToken string) {
	router := parentRouter.PathPrefix("/admin").Subrouter()
	router.StrictSlash(false)
	router.Use(middleware.JSON)
	router.Use(middleware.AdminAuth(adminToken))

	router.HandleFunc("/newsletters", d.HandlePublish).Methods(http.MethodPost)
}

// HandlePublish reads title, text_content and html_content from the form
// body and publishes the issue.
func (d *Dispatcher) HandlePublish(w http.ResponseWriter, r *http.Request) {
	rid := middleware.ReqID(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxIssueBody)
	if err := r.ParseForm(); err != nil {
		slog.Warn("invalid newsletter form", "requestId", rid, "error", err)
		middleware.WriteErrorJSON(w, "VALIDATION_ERROR", "invalid form body", http.StatusBadRequest)
		return
	}

	issue := Issue{
		Title:       r.PostForm.Get("title"),
		TextContent: r.PostForm.Get("text_content"),
		HTMLContent: r.PostForm.Get("html_content"),
	}
	slog.Debug("publishing newsletter", "title", issue.Title, "requestId", rid)

	if err := d.Publish(r.Context(), issue); err != nil {
		appErr := apperr.As(err)
		if appErr.Kind == apperr.KindUnexpected {
			slog.Error("failed to publish newsletter", "requestId", rid, "error", appErr.Error())
		} else {
			slog.Warn("rejected newsletter", "requestId", rid, "error", appErr.Message)
		}
		middleware.WriteErrorJSON(w, appErr.Code(), appErr.Message, appErr.HTTPStatus())
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "published"}); err != nil {
		slog.Error("failed to write response", "requestId", rid, "error", err)
	}
}
