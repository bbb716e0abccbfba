package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// authAttemptsTotal counts credential commands by operation and result.
	//
	// Labels: op (sign_in, sign_up, sign_out), result (success or an error kind)
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"op", "result"},
	)

	// tokenRefreshTotal counts refreshes by result, including superseded ones.
	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Total number of session refresh attempts",
		},
		[]string{"result"},
	)

	// navigationRedirectsTotal counts replaces issued by the guard.
	//
	// Labels: target (home, login)
	navigationRedirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigation_redirects_total",
			Help: "Total number of guard redirects",
		},
		[]string{"target"},
	)

	// navigationSuppressedTotal counts decisions skipped by a transient flag.
	//
	// Labels: reason (resuming, pending_modal, navigating)
	navigationSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigation_suppressed_total",
			Help: "Total number of suppressed guard decisions",
		},
		[]string{"reason"},
	)

	// appResumesTotal counts foreground transitions by refresh outcome.
	//
	// Labels: result (refreshed, failed, no_session)
	appResumesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_resumes_total",
			Help: "Total number of app resumes",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(authAttemptsTotal)
	prometheus.MustRegister(tokenRefreshTotal)
	prometheus.MustRegister(navigationRedirectsTotal)
	prometheus.MustRegister(navigationSuppressedTotal)
	prometheus.MustRegister(appResumesTotal)
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, ErrSuperseded) {
		return "superseded"
	}
	return "error"
}
