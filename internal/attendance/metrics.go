package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_sessions_opened_total",
		Help: "Class sessions created by instructor check-in.",
	})
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Student scans by outcome.",
	}, []string{"outcome"})
	sessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sessions_closed_total",
		Help: "Sessions processed, by what closed them.",
	}, []string{"reason"})
	absencesMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_absences_marked_total",
		Help: "ABSENT records back-filled at session close.",
	}, []string{"reason"})
	viewLockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_view_lock_conflicts_total",
		Help: "View lock requests rejected because another kiosk holds the lock.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_sweep_duration_seconds",
		Help:    "Wall time of absence sweeps.",
		Buckets: prometheus.DefBuckets,
	})
)

// Close reasons used as metric labels.
const (
	reasonCheckout = "checkout"
	reasonAuto     = "auto"
	reasonSweep    = "sweep"
)
