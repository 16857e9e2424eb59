// Package subscriptions implements the subscribe and confirm workflows and
// their HTTP handlers.
package subscriptions

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"newsletter-service/api/pkg/clients/email"
	"newsletter-service/api/pkg/middleware"
	"newsletter-service/api/services/storage"
)

// Service handles subscription requests. It holds only injected
// collaborators and is safe for concurrent use.
type Service struct {
	storage storage.Storage
	email   email.Client
	baseURL string
	limiter *middleware.IPRateLimiter
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithRateLimiter throttles POST /subscriptions per client IP.
func WithRateLimiter(rl *middleware.IPRateLimiter) Option {
	return func(s *Service) { s.limiter = rl }
}

// NewService creates a subscription Service. baseURL is the public origin
// used to build confirmation links.
func NewService(store storage.Storage, emailClient email.Client, baseURL string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("service: store cannot be nil")
	}
	if emailClient == nil {
		return nil, fmt.Errorf("service: email client cannot be nil")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("service: base URL cannot be empty")
	}
	s := &Service{storage: store, email: emailClient, baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/subscriptions").Subrouter()
	router.StrictSlash(false)
	router.Use(middleware.JSON)

	var subscribe http.Handler = http.HandlerFunc(s.HandleSubscribe)
	if s.limiter != nil {
		subscribe = s.limiter.Middleware("subscribe")(subscribe)
	}
	router.Handle("", subscribe).Methods(http.MethodPost)
	router.HandleFunc("/confirm", s.HandleConfirm).Methods(http.MethodGet)
}
