// Package metrics holds the Prometheus collectors of the newsletter service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubscriptionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsletter_subscriptions_created_total",
		Help: "Total number of subscribers created by the subscribe workflow",
	})
	SubscriptionRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_subscription_requests_total",
		Help: "Total number of subscribe requests by outcome",
	}, []string{"outcome"})
	// SubscriptionInsertConflicts counts lost races on first subscription.
	SubscriptionInsertConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsletter_subscription_insert_conflicts_total",
		Help: "Total number of subscribe transactions that hit a uniqueness conflict and retried",
	})
	Confirmations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_confirmations_total",
		Help: "Total number of confirmation requests by outcome",
	}, []string{"outcome"})
	NewsletterDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_deliveries_total",
		Help: "Total number of per-recipient newsletter deliveries by outcome",
	}, []string{"outcome"})
	NewsletterIssues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_issues_total",
		Help: "Total number of newsletter publish requests by outcome",
	}, []string{"outcome"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_mail_send_success_total",
		Help: "Total number of emails accepted by the mail provider",
	}, []string{"provider"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_mail_send_failure_total",
		Help: "Total number of emails the mail provider failed to accept",
	}, []string{"provider"})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(SubscriptionsCreated)
	prometheus.MustRegister(SubscriptionRequests)
	prometheus.MustRegister(SubscriptionInsertConflicts)
	prometheus.MustRegister(Confirmations)
	prometheus.MustRegister(NewsletterDeliveries)
	prometheus.MustRegister(NewsletterIssues)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(RateLimited)
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
