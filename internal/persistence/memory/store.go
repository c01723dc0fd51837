// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
	"example.com/progression/internal/formula"
)

type summaryKey struct {
	accountID string
	date      calendar.Date
}

type summaryRow struct {
	summary domain.DailySummary
	// token is the live claim, empty when unclaimed.
	token string
}

// Store keeps accounts and logs in maps. Units of work are serialised per
// account and staged writes are published only when the callback succeeds.
type Store struct {
	mu        sync.RWMutex
	locks     map[string]*sync.Mutex
	accounts  map[string]domain.Account
	profiles  map[string]domain.Profile
	habits    map[string]domain.Habit
	workouts  map[string][]domain.WorkoutLog
	meals     map[string][]domain.MealLog
	steps     map[string][]domain.StepLog
	summaries map[summaryKey]summaryRow
	outbox    []events.Envelope
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		locks:     make(map[string]*sync.Mutex),
		accounts:  make(map[string]domain.Account),
		profiles:  make(map[string]domain.Profile),
		habits:    make(map[string]domain.Habit),
		workouts:  make(map[string][]domain.WorkoutLog),
		meals:     make(map[string][]domain.MealLog),
		steps:     make(map[string][]domain.StepLog),
		summaries: make(map[summaryKey]summaryRow),
	}
}

// PutAccount creates or replaces an account outside any unit of work.
func (s *Store) PutAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account.Clone()
}

// PutProfile records physical metrics for an account.
func (s *Store) PutProfile(profile domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.AccountID] = profile
}

// PutHabit creates or replaces a habit.
func (s *Store) PutHabit(habit domain.Habit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(habit.ID) == "" {
		habit.ID = uuid.NewString()
	}
	s.habits[habit.ID] = habit
}

// DeleteWorkout removes a logged workout, e.g. after a user correction.
func (s *Store) DeleteWorkout(accountID, workoutID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := s.workouts[accountID]
	for i, w := range logs {
		if w.ID == workoutID {
			s.workouts[accountID] = append(logs[:i:i], logs[i+1:]...)
			return true
		}
	}
	return false
}

// LoadAccount returns a committed account.
func (s *Store) LoadAccount(accountID string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return domain.Account{}, false
	}
	return acc.Clone(), true
}

// LoadHabit returns a committed habit.
func (s *Store) LoadHabit(habitID string) (domain.Habit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.habits[habitID]
	return h, ok
}

// Events returns a copy of every envelope committed so far.
func (s *Store) Events() []events.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Envelope, len(s.outbox))
	copy(out, s.outbox)
	return out
}

// Summary returns the stored summary for (account, date).
func (s *Store) Summary(accountID string, date calendar.Date) (domain.DailySummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.summaries[summaryKey{accountID, date}]
	return row.summary, ok
}

func (s *Store) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// Do implements domain.UnitOfWork.
func (s *Store) Do(ctx context.Context, accountID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, accountID: accountID, habits: make(map[string]domain.Habit), deleted: make(map[string]struct{})}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// HabitOwner implements domain.HabitDirectory.
func (s *Store) HabitOwner(_ context.Context, habitID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.habits[habitID]
	if !ok {
		return "", domain.ErrHabitNotFound
	}
	return h.AccountID, nil
}

// MaxEstimatedOneRepMax aggregates the best estimated 1RM across every stored set.
func (s *Store) MaxEstimatedOneRepMax(_ context.Context, accountID, exercise string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.NormalizeExercise(exercise)
	best, found := 0.0, false
	for _, w := range s.workouts[accountID] {
		for _, set := range w.Sets {
			if domain.NormalizeExercise(set.Exercise) != key {
				continue
			}
			found = true
			if v := formula.EstimatedOneRepMax(set.WeightKg, set.Reps); v > best {
				best = v
			}
		}
	}
	return best, found, nil
}

// AccountIDs implements domain.ReconciliationStore.
func (s *Store) AccountIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Profile implements domain.ReconciliationStore. Accounts without a profile
// yield an empty profile so the job can report missing metrics.
func (s *Store) Profile(_ context.Context, accountID string) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return domain.Profile{}, domain.ErrAccountNotFound
	}
	p, ok := s.profiles[accountID]
	if !ok {
		return domain.Profile{AccountID: accountID}, nil
	}
	return p, nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// MealsBetween implements domain.ReconciliationStore over [from, to).
func (s *Store) MealsBetween(_ context.Context, accountID string, from, to time.Time) ([]domain.MealLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MealLog
	for _, m := range s.meals[accountID] {
		if within(m.EatenAt, from, to) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EatenAt.Equal(out[j].EatenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EatenAt.Before(out[j].EatenAt)
	})
	return out, nil
}

// WorkoutsBetween implements domain.ReconciliationStore over [from, to).
func (s *Store) WorkoutsBetween(_ context.Context, accountID string, from, to time.Time) ([]domain.WorkoutLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WorkoutLog
	for _, w := range s.workouts[accountID] {
		if within(w.PerformedAt, from, to) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PerformedAt.Equal(out[j].PerformedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PerformedAt.Before(out[j].PerformedAt)
	})
	return out, nil
}

// StepsBetween implements domain.ReconciliationStore over [from, to).
func (s *Store) StepsBetween(_ context.Context, accountID string, from, to time.Time) ([]domain.StepLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StepLog
	for _, st := range s.steps[accountID] {
		if within(st.RecordedAt, from, to) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// ClaimSummary implements domain.ReconciliationStore.
func (s *Store) ClaimSummary(_ context.Context, accountID string, date calendar.Date, force bool) (domain.DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := summaryKey{accountID, date}
	row, ok := s.summaries[key]
	if !ok {
		row = summaryRow{summary: domain.DailySummary{ID: uuid.NewString(), AccountID: accountID, Date: date}}
	}
	if row.token != "" {
		return row.summary, domain.ErrSummaryClaimed
	}
	if row.summary.IsFinalized && !force {
		return row.summary, domain.ErrAlreadyFinalized
	}
	row.token = uuid.NewString()
	s.summaries[key] = row
	claimed := row.summary
	claimed.ClaimToken = row.token
	return claimed, nil
}

// SaveSummary implements domain.ReconciliationStore.
func (s *Store) SaveSummary(_ context.Context, summary domain.DailySummary, event events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := summaryKey{summary.AccountID, summary.Date}
	if row, ok := s.summaries[key]; !ok || row.token == "" || row.token != summary.ClaimToken {
		return fmt.Errorf("summary %s/%s is not held by this run: %w", summary.AccountID, summary.Date, domain.ErrSummaryClaimed)
	}
	summary.ClaimToken = ""
	s.summaries[key] = summaryRow{summary: summary}
	if event.Type != "" {
		s.outbox = append(s.outbox, event)
	}
	return nil
}

// ReleaseClaim implements domain.ReconciliationStore.
func (s *Store) ReleaseClaim(_ context.Context, summary domain.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := summaryKey{summary.AccountID, summary.Date}
	if row, ok := s.summaries[key]; ok && row.token != "" && row.token == summary.ClaimToken {
		row.token = ""
		s.summaries[key] = row
	}
	return nil
}

type memTx struct {
	store     *Store
	accountID string

	account  *domain.Account
	habits   map[string]domain.Habit
	workouts []domain.WorkoutLog
	deleted  map[string]struct{}
	meals    []domain.MealLog
	steps    []domain.StepLog
	events   []events.Envelope
}

func (t *memTx) Account(_ context.Context) (domain.Account, error) {
	if t.account != nil {
		return t.account.Clone(), nil
	}
	acc, ok := t.store.LoadAccount(t.accountID)
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, nil
}

func (t *memTx) SaveAccount(_ context.Context, account domain.Account) error {
	if account.ID != t.accountID {
		return domain.ErrAccountNotFound
	}
	staged := account.Clone()
	t.account = &staged
	return nil
}

func (t *memTx) Habit(_ context.Context, habitID string) (domain.Habit, error) {
	if h, ok := t.habits[habitID]; ok {
		return h, nil
	}
	h, ok := t.store.LoadHabit(habitID)
	if !ok || h.AccountID != t.accountID {
		return domain.Habit{}, domain.ErrHabitNotFound
	}
	return h, nil
}

func (t *memTx) SaveHabit(_ context.Context, habit domain.Habit) error {
	if habit.AccountID != t.accountID {
		return domain.ErrHabitNotFound
	}
	t.habits[habit.ID] = habit
	return nil
}

func (t *memTx) InsertWorkout(_ context.Context, workout domain.WorkoutLog) error {
	workout.AccountID = t.accountID
	workout.Sets = append([]domain.WorkoutSet(nil), workout.Sets...)
	t.workouts = append(t.workouts, workout)
	return nil
}

func (t *memTx) DeleteWorkout(_ context.Context, workoutID string) (domain.WorkoutLog, error) {
	if _, gone := t.deleted[workoutID]; gone {
		return domain.WorkoutLog{}, domain.ErrWorkoutNotFound
	}
	for i, w := range t.workouts {
		if w.ID == workoutID {
			t.workouts = append(t.workouts[:i:i], t.workouts[i+1:]...)
			return w, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, w := range t.store.workouts[t.accountID] {
		if w.ID == workoutID {
			t.deleted[workoutID] = struct{}{}
			w.Sets = append([]domain.WorkoutSet(nil), w.Sets...)
			return w, nil
		}
	}
	return domain.WorkoutLog{}, domain.ErrWorkoutNotFound
}

func (t *memTx) InsertMeal(_ context.Context, meal domain.MealLog) error {
	meal.AccountID = t.accountID
	meal.Ingredients = append([]domain.Ingredient(nil), meal.Ingredients...)
	t.meals = append(t.meals, meal)
	return nil
}

func (t *memTx) InsertSteps(_ context.Context, steps domain.StepLog) error {
	steps.AccountID = t.accountID
	t.steps = append(t.steps, steps)
	return nil
}

func (t *memTx) Emit(_ context.Context, event events.Envelope) error {
	t.events = append(t.events, event)
	return nil
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.account != nil {
		acc := *t.account
		acc.Version++
		s.accounts[t.accountID] = acc
	}
	for id, h := range t.habits {
		s.habits[id] = h
	}
	if len(t.deleted) > 0 {
		kept := s.workouts[t.accountID][:0:0]
		for _, w := range s.workouts[t.accountID] {
			if _, gone := t.deleted[w.ID]; !gone {
				kept = append(kept, w)
			}
		}
		s.workouts[t.accountID] = kept
	}
	s.workouts[t.accountID] = append(s.workouts[t.accountID], t.workouts...)
	s.meals[t.accountID] = append(s.meals[t.accountID], t.meals...)
	s.steps[t.accountID] = append(s.steps[t.accountID], t.steps...)
	s.outbox = append(s.outbox, t.events...)
	return nil
}

// CreateAccount implements domain.Registry.
func (s *Store) CreateAccount(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return domain.ErrAccountExists
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

// UpsertProfile implements domain.Registry.
func (s *Store) UpsertProfile(_ context.Context, profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[profile.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	s.profiles[profile.AccountID] = profile
	return nil
}

// CreateHabit implements domain.Registry.
func (s *Store) CreateHabit(_ context.Context, habit domain.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[habit.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	s.habits[habit.ID] = habit
	return nil
}
