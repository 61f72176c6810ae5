package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain counters exposed on /metrics.
var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyroom_checkins_total",
		Help: "Successful check-ins by method.",
	}, []string{"method"})

	CheckOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyroom_checkouts_total",
		Help: "Successful check-outs by method.",
	}, []string{"method"})

	PinVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyroom_pin_verifications_total",
		Help: "PIN verification attempts by outcome (ok, mismatch, locked).",
	}, []string{"outcome"})

	PinLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyroom_pin_lockouts_total",
		Help: "Credentials locked after repeated failures.",
	})

	LinkUsage = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyroom_checklink_usage_total",
		Help: "Successful check-in/out events through public links.",
	})
)
