// Package reconcile finalizes each account's daily energy balance.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
	"example.com/progression/internal/formula"
	"example.com/progression/internal/observability"
)

// DefaultWorkers bounds FinalizeAll when no worker count is configured.
const DefaultWorkers = 4

// Option configures optional behaviour for the Job.
type Option func(*Job)

// WithLogger overrides the logger used to report skipped and failed accounts.
func WithLogger(logger *log.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

// WithClock injects the clock used to decide whether a day has ended.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		j.now = now
	}
}

// WithWorkers bounds how many accounts FinalizeAll processes at once.
func WithWorkers(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.workers = n
		}
	}
}

// AccountError pairs an account with the reason it was not finalized.
type AccountError struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

// Report summarises one FinalizeAll batch.
type Report struct {
	Date             calendar.Date  `json:"date"`
	Finalized        []string       `json:"finalized"`
	AlreadyFinalized []string       `json:"already_finalized"`
	Skipped          []AccountError `json:"skipped"`
	Failed           []AccountError `json:"failed"`
	// NotStarted lists accounts left untouched because the batch was cancelled.
	NotStarted []string      `json:"not_started,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Job aggregates a day of logs into one immutable DailySummary per account.
type Job struct {
	store   domain.ReconciliationStore
	loc     *time.Location
	now     func() time.Time
	workers int
	logger  *log.Logger
	locks   *keyedMutex
}

// NewJob constructs a Job. loc defines where each calendar day starts and ends.
func NewJob(store domain.ReconciliationStore, loc *time.Location, opts ...Option) *Job {
	if loc == nil {
		loc = time.UTC
	}
	j := &Job{
		store:   store,
		loc:     loc,
		now:     time.Now,
		workers: DefaultWorkers,
		logger:  log.New(log.Writer(), "[reconcile] ", log.LstdFlags|log.Lshortfile),
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Location returns the reference timezone.
func (j *Job) Location() *time.Location {
	return j.loc
}

// Yesterday is the most recent day that can be finalized.
func (j *Job) Yesterday() calendar.Date {
	return calendar.DayOf(j.now(), j.loc).AddDays(-1)
}

// Finalize computes and stores the summary for (accountID, date). A day that
// is already finalized is returned as stored together with
// domain.ErrAlreadyFinalized.
func (j *Job) Finalize(ctx context.Context, accountID string, date calendar.Date) (domain.DailySummary, error) {
	return j.finalize(ctx, accountID, date, false)
}

// Reprocess recomputes (accountID, date) even when it was finalized before.
func (j *Job) Reprocess(ctx context.Context, accountID string, date calendar.Date) (domain.DailySummary, error) {
	return j.finalize(ctx, accountID, date, true)
}

func (j *Job) checkDay(date calendar.Date) error {
	if date.IsZero() {
		return domain.Invalid("date", "is required")
	}
	today := calendar.DayOf(j.now(), j.loc)
	if !date.Before(today) {
		return fmt.Errorf("%s (today is %s in %s): %w", date, today, j.loc, domain.ErrDayInProgress)
	}
	return nil
}

func (j *Job) finalize(ctx context.Context, accountID string, date calendar.Date, force bool) (domain.DailySummary, error) {
	if err := j.checkDay(date); err != nil {
		return domain.DailySummary{}, err
	}
	unlock := j.locks.lock(lockKey{accountID: accountID, date: date})
	defer unlock()

	// Accounts without body metrics are skipped before a summary row exists.
	profile, err := j.store.Profile(ctx, accountID)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("finalize %s %s: %w", accountID, date, err)
	}
	if !profile.Complete() {
		return domain.DailySummary{}, fmt.Errorf("finalize %s %s: %v absent: %w", accountID, date, profile.Missing(), domain.ErrMissingMetrics)
	}

	claimed, err := j.store.ClaimSummary(ctx, accountID, date, force)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyFinalized) {
			return claimed, fmt.Errorf("finalize %s %s: %w", accountID, date, err)
		}
		return domain.DailySummary{}, fmt.Errorf("claim %s %s: %w", accountID, date, err)
	}
	reprocessed := claimed.IsFinalized

	saved := false
	defer func() {
		if saved {
			return
		}
		if err := j.store.ReleaseClaim(context.WithoutCancel(ctx), claimed); err != nil {
			j.logger.Printf("release claim %s %s: %v", accountID, date, err)
		}
	}()

	summary, err := j.compute(ctx, claimed, profile)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("finalize %s %s: %w", accountID, date, err)
	}

	event := events.Envelope{
		Type:        events.TypeSummaryFinalized,
		AccountID:   accountID,
		AggregateID: summary.ID,
		Payload: events.SummaryFinalized{
			AccountID:    accountID,
			Date:         date.String(),
			CaloriesIn:   summary.CaloriesIn,
			CaloriesOut:  summary.CaloriesOut,
			FinalBalance: summary.FinalBalance,
			Reprocessed:  reprocessed,
			OccurredAt:   *summary.FinalizedAt,
		},
	}
	if err := j.store.SaveSummary(ctx, summary, event); err != nil {
		return domain.DailySummary{}, fmt.Errorf("save summary %s %s: %w", accountID, date, err)
	}
	saved = true
	summary.ClaimToken = ""
	return summary, nil
}

// compute aggregates the logs of claimed.Date into a finalized summary.
func (j *Job) compute(ctx context.Context, claimed domain.DailySummary, profile domain.Profile) (domain.DailySummary, error) {
	accountID := claimed.AccountID
	from := claimed.Date.Start(j.loc)
	to := claimed.Date.Next().Start(j.loc)

	meals, err := j.store.MealsBetween(ctx, accountID, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}
	workouts, err := j.store.WorkoutsBetween(ctx, accountID, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}
	steps, err := j.store.StepsBetween(ctx, accountID, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := Aggregate(profile, meals, workouts, steps)
	summary.ID = claimed.ID
	summary.ClaimToken = claimed.ClaimToken
	summary.AccountID = accountID
	summary.Date = claimed.Date
	summary.IsFinalized = true
	finalizedAt := j.now().UTC()
	summary.FinalizedAt = &finalizedAt
	return summary, nil
}

// Aggregate is the pure energy-balance computation over one day's logs.
// Inputs are expected in (timestamp, id) order so reruns sum identically.
func Aggregate(profile domain.Profile, meals []domain.MealLog, workouts []domain.WorkoutLog, steps []domain.StepLog) domain.DailySummary {
	caloriesIn := 0.0
	for _, m := range meals {
		caloriesIn += m.TotalCalories()
	}
	totalSteps := 0
	for _, s := range steps {
		if s.Count > 0 {
			totalSteps += s.Count
		}
	}

	bmr := formula.Round2(formula.BMR(profile.Gender, profile.WeightKg, profile.HeightCm, profile.AgeYears))
	stepCalories := formula.Round2(formula.StepCalories(totalSteps, profile.WeightKg))
	workoutCalories := formula.Round2(formula.WorkoutLogCalories(workouts, profile.WeightKg))
	caloriesOut := formula.Round2(bmr + stepCalories + workoutCalories)
	caloriesIn = formula.Round2(caloriesIn)

	return domain.DailySummary{
		CaloriesIn:      caloriesIn,
		BMR:             bmr,
		StepCalories:    stepCalories,
		WorkoutCalories: workoutCalories,
		CaloriesOut:     caloriesOut,
		FinalBalance:    formula.Round2(caloriesIn - caloriesOut),
		Steps:           totalSteps,
		MealCount:       len(meals),
		WorkoutCount:    len(workouts),
	}
}

// FinalizeAll finalizes date for every account using a bounded worker pool.
// A failing account is recorded in the report and never aborts the batch.
// Cancelling ctx stops new accounts from starting; accounts already running
// complete. The returned error is non-nil only when the batch could not start
// or was cancelled.
func (j *Job) FinalizeAll(ctx context.Context, date calendar.Date) (Report, error) {
	started := time.Now()
	report := Report{Date: date}
	if err := j.checkDay(date); err != nil {
		return report, err
	}
	ids, err := j.store.AccountIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list accounts: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(j.workers)

	for i, id := range ids {
		if ctx.Err() != nil {
			mu.Lock()
			report.NotStarted = append(report.NotStarted, ids[i:]...)
			mu.Unlock()
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				report.NotStarted = append(report.NotStarted, id)
				mu.Unlock()
				return nil
			}
			outcome, accErr := j.finalizeOne(context.WithoutCancel(ctx), id, date)
			observability.RecordReconcileOutcome(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case observability.OutcomeFinalized:
				report.Finalized = append(report.Finalized, id)
			case observability.OutcomeAlreadyFinalized:
				report.AlreadyFinalized = append(report.AlreadyFinalized, id)
			case observability.OutcomeSkipped:
				report.Skipped = append(report.Skipped, accErr)
			default:
				report.Failed = append(report.Failed, accErr)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = time.Since(started)
	observability.RecordReconcileBatch(date, report.Elapsed)
	j.logger.Printf("finalized %s: %d finalized, %d already finalized, %d skipped, %d failed, %d not started in %s",
		date, len(report.Finalized), len(report.AlreadyFinalized), len(report.Skipped), len(report.Failed), len(report.NotStarted), report.Elapsed)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (j *Job) finalizeOne(ctx context.Context, accountID string, date calendar.Date) (outcome string, accErr AccountError) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			j.logger.Printf("account %s failed for %s: %v", accountID, date, err)
			outcome = observability.OutcomeFailed
			accErr = AccountError{AccountID: accountID, Reason: err.Error(), Err: err}
		}
	}()

	_, err := j.Finalize(ctx, accountID, date)
	switch {
	case err == nil:
		return observability.OutcomeFinalized, AccountError{}
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return observability.OutcomeAlreadyFinalized, AccountError{}
	case errors.Is(err, domain.ErrMissingMetrics), errors.Is(err, domain.ErrSummaryClaimed):
		j.logger.Printf("skipping account %s for %s: %v", accountID, date, err)
		return observability.OutcomeSkipped, AccountError{AccountID: accountID, Reason: err.Error(), Err: err}
	default:
		j.logger.Printf("account %s failed for %s: %v", accountID, date, err)
		return observability.OutcomeFailed, AccountError{AccountID: accountID, Reason: err.Error(), Err: err}
	}
}
