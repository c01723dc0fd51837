package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/progression/internal/calendar"
)

var (
	experienceGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progression",
		Subsystem: "ledger",
		Name:      "experience_granted_total",
		Help:      "Experience points applied to accounts.",
	})
	levelUps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progression",
		Subsystem: "ledger",
		Name:      "levels_gained_total",
		Help:      "Levels gained across all accounts.",
	})
	checkIns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression",
		Subsystem: "streak",
		Name:      "check_ins_total",
		Help:      "Habit check-ins grouped by result.",
	}, []string{"result"})
	achievementsUnlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression",
		Subsystem: "achievement",
		Name:      "unlocked_total",
		Help:      "Achievements granted, labeled by key.",
	}, []string{"key"})
	reconcileOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression",
		Subsystem: "reconcile",
		Name:      "accounts_total",
		Help:      "Per-account reconciliation outcomes (finalized, already_finalized, skipped, failed).",
	}, []string{"outcome"})
	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "progression",
		Subsystem: "reconcile",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of a FinalizeAll batch.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	lastFinalizedDay = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progression",
		Subsystem: "reconcile",
		Name:      "last_batch_day_timestamp_seconds",
		Help:      "Unix timestamp (UTC midnight) of the most recent calendar day processed by FinalizeAll.",
	})
)

// Reconciliation outcome labels.
const (
	OutcomeFinalized        = "finalized"
	OutcomeAlreadyFinalized = "already_finalized"
	OutcomeSkipped          = "skipped"
	OutcomeFailed           = "failed"
)

func init() {
	prometheus.MustRegister(experienceGranted, levelUps, checkIns, achievementsUnlocked, reconcileOutcomes, reconcileDuration, lastFinalizedDay)
}

// RecordExperience tracks an applied grant and the levels it produced.
func RecordExperience(delta, levelsGained int) {
	if delta > 0 {
		experienceGranted.Add(float64(delta))
	}
	if levelsGained > 0 {
		levelUps.Add(float64(levelsGained))
	}
}

// Check-in result labels.
const (
	CheckInAccepted         = "accepted"
	CheckInAlreadyCompleted = "already_completed"
	CheckInRejected         = "rejected"
)

// RecordCheckIn counts a habit check-in attempt by result.
func RecordCheckIn(result string) {
	checkIns.WithLabelValues(result).Inc()
}

// RecordAchievements counts granted keys.
func RecordAchievements(keys []string) {
	for _, key := range keys {
		achievementsUnlocked.WithLabelValues(key).Inc()
	}
}

// RecordReconcileOutcome counts one account's result in a batch.
func RecordReconcileOutcome(outcome string) {
	reconcileOutcomes.WithLabelValues(outcome).Inc()
}

// RecordReconcileBatch observes batch duration and the day it covered.
func RecordReconcileBatch(day calendar.Date, elapsed time.Duration) {
	reconcileDuration.Observe(elapsed.Seconds())
	lastFinalizedDay.Set(float64(day.Start(time.UTC).Unix()))
}

// ReconcileOutcomeCounter exposes the labeled counter for assertions.
func ReconcileOutcomeCounter(outcome string) prometheus.Counter {
	return reconcileOutcomes.WithLabelValues(outcome)
}

// CheckInCounter exposes the labeled counter for assertions.
func CheckInCounter(result string) prometheus.Counter {
	return checkIns.WithLabelValues(result)
}
