package subscriptions

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"newsletter-service/api/pkg/clients/email/emailmock"
	"newsletter-service/api/pkg/middleware"
	"newsletter-service/api/services/domain"
	"newsletter-service/api/services/storage/storagemock"
)

// newTestRouter wires up the service with mux routing so handler tests
// exercise the full request path.
func newTestRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	svc.LoadRoutes(router)
	return router
}

func postForm(router http.Handler, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, body []byte) map[string]string {
	t.Helper()
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("failed to unmarshal error body %q: %v", body, err)
	}
	return got
}

func TestHandleSubscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		form       url.Values
		mailErr    error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid form returns 200",
			form:       url.Values{"name": {"le guin"}, "email": {"ursula_le_guin@gmail.com"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing email returns 400",
			form:       url.Values{"name": {"le guin"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "missing both returns 400",
			form:       url.Values{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "invalid email returns 400",
			form:       url.Values{"name": {"Ursula"}, "email": {"definitely-not-an-email"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "email failure returns 500",
			form:       url.Values{"name": {"le guin"}, "email": {"ursula_le_guin@gmail.com"}},
			mailErr:    errors.New("provider down"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mailer := &emailmock.Recorder{Err: tt.mailErr}
			svc := newTestService(t, storagemock.NewMemory(), mailer)

			rec := postForm(newTestRouter(svc), tt.form)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("expected request id header")
			}
			if tt.wantCode == "" {
				return
			}
			body := decodeError(t, rec.Body.Bytes())
			if body["code"] != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, body["code"])
			}
			if tt.wantStatus == http.StatusInternalServerError && body["message"] != "internal server error" {
				t.Errorf("expected opaque 500 message, got %q", body["message"])
			}
		})
	}
}

func TestHandleSubscribe_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, storagemock.NewMemory(), &emailmock.Recorder{})
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleSubscribe_RateLimited(t *testing.T) {
	t.Parallel()
	limiter := middleware.NewIPRateLimiter(t.Context(), middleware.RateLimitConfig{Rate: 0.001, Burst: 1})
	svc, err := NewService(storagemock.NewMemory(), &emailmock.Recorder{}, testBaseURL, WithRateLimiter(limiter))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	router := newTestRouter(svc)
	form := url.Values{"name": {"le guin"}, "email": {"ursula_le_guin@gmail.com"}}

	if rec := postForm(router, form); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	if rec := postForm(router, form); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestHandleConfirm(t *testing.T) {
	t.Parallel()
	store := storagemock.NewMemory()
	mailer := &emailmock.Recorder{}
	svc := newTestService(t, store, mailer)
	router := newTestRouter(svc)

	if rec := postForm(router, url.Values{"name": {"le guin"}, "email": {"ursula_le_guin@gmail.com"}}); rec.Code != http.StatusOK {
		t.Fatalf("subscribe failed: %d", rec.Code)
	}
	token := linkToken(t, mailer.Sent()[0])

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{name: "missing token returns 400", query: "", wantStatus: http.StatusBadRequest},
		{name: "malformed token returns 400", query: "?subscription_token=not-valid", wantStatus: http.StatusBadRequest},
		{name: "unknown token returns 401", query: "?subscription_token=" + domain.GenerateSubscriptionToken().String(), wantStatus: http.StatusUnauthorized},
		{name: "valid token returns 200", query: "?subscription_token=" + token, wantStatus: http.StatusOK},
		{name: "repeat confirmation returns 200", query: "?subscription_token=" + token, wantStatus: http.StatusOK},
	}

	// Subtests run in order: the last two depend on each other.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm"+tt.query, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	sub, _ := store.Subscriber("ursula_le_guin@gmail.com")
	if sub.Status != domain.StatusConfirmed {
		t.Errorf("expected confirmed, got %q", sub.Status)
	}
}
