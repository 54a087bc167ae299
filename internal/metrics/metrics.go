package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts logins by outcome
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_control",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome",
	}, []string{"outcome"})

	// TokenRefreshes counts refresh-token rotations by outcome
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_control",
		Name:      "token_refreshes_total",
		Help:      "Refresh token rotations by outcome",
	}, []string{"outcome"})

	// ReplayDetections counts refresh-token replay events. Any nonzero rate
	// deserves attention: each event means a rotated-away token came back.
	ReplayDetections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "access_control",
		Name:      "token_replay_detections_total",
		Help:      "Refresh tokens presented after rotation",
	})

	// AdmissionDecisions counts admission gate outcomes per resource kind
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_control",
		Name:      "admission_decisions_total",
		Help:      "Admission gate decisions by resource kind and outcome",
	}, []string{"kind", "outcome"})
)

// Outcome label values
const (
	OutcomeSuccess              = "success"
	OutcomeInvalidCredentials   = "invalid_credentials"
	OutcomeAccountInactive      = "account_inactive"
	OutcomeRateLimited          = "rate_limited"
	OutcomeExpired              = "expired"
	OutcomeRevoked              = "revoked"
	OutcomeReplay               = "replay"
	OutcomeAllowed              = "allowed"
	OutcomeSubscriptionInactive = "subscription_inactive"
	OutcomeLimitReached         = "limit_reached"
	OutcomeError                = "error"
)
