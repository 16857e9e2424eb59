package subscriptions

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"newsletter-service/api/pkg/apperr"
	"newsletter-service/api/pkg/middleware"
)

// maxFormBody limits the size of the subscribe form.
const maxFormBody = 64 << 10

// HandleSubscribe reads the url-encoded email and name fields and runs the
// subscribe workflow.
func (s *Service) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	rid := middleware.ReqID(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	if err := r.ParseForm(); err != nil {
		slog.Warn("invalid subscribe form", "requestId", rid, "error", err)
		middleware.WriteErrorJSON(w, "VALIDATION_ERROR", "invalid form body", http.StatusBadRequest)
		return
	}

	form := SubscribeForm{Email: r.PostForm.Get("email"), Name: r.PostForm.Get("name")}
	slog.Debug("handling subscribe", "requestId", rid)

	if err := s.Subscribe(r.Context(), form); err != nil {
		writeAppError(w, rid, "subscribe failed", err)
		return
	}
	writeJSON(w, rid, map[string]string{"status": "pending_confirmation"})
}

// HandleConfirm confirms the subscriber owning the subscription_token query parameter.
func (s *Service) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	rid := middleware.ReqID(r)
	slog.Debug("handling confirm", "requestId", rid)

	if err := s.Confirm(r.Context(), r.URL.Query().Get("subscription_token")); err != nil {
		writeAppError(w, rid, "confirm failed", err)
		return
	}
	writeJSON(w, rid, map[string]string{"status": "confirmed"})
}

// writeAppError logs err and writes its category. Unexpected errors are
// logged with the whole cause chain and reported as an opaque 500.
func writeAppError(w http.ResponseWriter, rid, msg string, err error) {
	appErr := apperr.As(err)
	if appErr.Kind == apperr.KindUnexpected {
		slog.Error(msg, "requestId", rid, "error", appErr.Error())
	} else {
		slog.Warn(msg, "requestId", rid, "kind", appErr.Kind.String(), "error", appErr.Message)
	}
	middleware.WriteErrorJSON(w, appErr.Code(), appErr.Message, appErr.HTTPStatus())
}

func writeJSON(w http.ResponseWriter, rid string, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "requestId", rid, "error", err)
	}
}
