package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/progression/internal/achievement"
	"example.com/progression/internal/auth"
	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/progression"
	"example.com/progression/internal/reconcile"
	"example.com/progression/internal/records"
	"example.com/progression/internal/streak"
	"example.com/progression/internal/tracking"
)

// Dependencies bundles the services the HTTP surface fronts.
type Dependencies struct {
	Ledger       *progression.Ledger
	Tracking     *tracking.Service
	Streaks      *streak.Tracker
	Achievements *achievement.Engine
	Records      *records.Detector
	Reconciler   *reconcile.Job
	Registry     domain.Registry
	Habits       domain.HabitDirectory
}

// Handler wires HTTP routes to the progression services.
type Handler struct {
	deps Dependencies
	now  func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps, now: time.Now}
}

// RegisterRoutes attaches handler routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/accounts", h.createAccount)
	mux.HandleFunc("GET /v1/accounts/{id}", h.snapshot)
	mux.HandleFunc("PUT /v1/accounts/{id}/profile", h.upsertProfile)
	mux.HandleFunc("POST /v1/accounts/{id}/habits", h.createHabit)
	mux.HandleFunc("POST /v1/accounts/{id}/experience", h.grantExperience)
	mux.HandleFunc("POST /v1/accounts/{id}/title", h.selectTitle)
	mux.HandleFunc("POST /v1/accounts/{id}/workouts", h.logWorkout)
	mux.HandleFunc("DELETE /v1/accounts/{id}/workouts/{workout}", h.deleteWorkout)
	mux.HandleFunc("POST /v1/accounts/{id}/meals", h.logMeal)
	mux.HandleFunc("POST /v1/accounts/{id}/steps", h.logSteps)
	mux.HandleFunc("GET /v1/accounts/{id}/personal-records", h.personalRecord)
	mux.HandleFunc("POST /v1/accounts/{id}/achievements/evaluate", h.evaluateAchievements)
	mux.HandleFunc("POST /v1/accounts/{id}/summaries/{date}/finalize", h.finalizeSummary)
	mux.HandleFunc("POST /v1/habits/{id}/checkins", h.checkIn)
	mux.HandleFunc("POST /v1/summaries/{date}/finalize", h.finalizeAll)
	mux.HandleFunc("GET /v1/achievements", h.catalog)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authorize writes the 401/403 response itself and reports whether the caller may proceed.
func authorize(w http.ResponseWriter, r *http.Request, accountID, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.CanAccess(accountID, scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" on account "+accountID+" required")
		return false
	}
	return true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(auth.ScopeAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+auth.ScopeAdmin+" required")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

// CreateAccountRequest registers a fresh level-1 account.
type CreateAccountRequest struct {
	AccountID string `json:"account_id"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "account_id is required")
		return
	}
	if !authorize(w, r, req.AccountID, auth.ScopeWrite) {
		return
	}
	account := progression.NewAccount(req.AccountID, h.deps.Ledger.Rules())
	if err := h.deps.Registry.CreateAccount(r.Context(), account); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, progression.SnapshotOf(account, progression.LevelChange{PreviousLevel: account.Level, Level: account.Level}))
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeRead) {
		return
	}
	snap, err := h.deps.Ledger.Snapshot(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ProfileRequest carries the physical metrics used for reconciliation.
type ProfileRequest struct {
	Gender   string  `json:"gender"`
	AgeYears int     `json:"age_years"`
	WeightKg float64 `json:"weight_kg"`
	HeightCm float64 `json:"height_cm"`
}

// Validate rejects negative metrics; zero means "not provided".
func (p ProfileRequest) Validate() error {
	if p.AgeYears < 0 {
		return domain.Invalid("age_years", "must not be negative")
	}
	if p.WeightKg < 0 {
		return domain.Invalid("weight_kg", "must not be negative")
	}
	if p.HeightCm < 0 {
		return domain.Invalid("height_cm", "must not be negative")
	}
	return nil
}

func (h *Handler) upsertProfile(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req ProfileRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	profile := domain.Profile{
		AccountID: accountID,
		Gender:    domain.ParseGender(req.Gender),
		AgeYears:  req.AgeYears,
		WeightKg:  req.WeightKg,
		HeightCm:  req.HeightCm,
	}
	if err := h.deps.Registry.UpsertProfile(r.Context(), profile); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"complete":   profile.Complete(),
		"missing":    profile.Missing(),
	})
}

// CreateHabitRequest names a new habit.
type CreateHabitRequest struct {
	Name string `json:"name"`
}

// HabitResponse is the API view of a habit.
type HabitResponse struct {
	ID                string         `json:"id"`
	AccountID         string         `json:"account_id"`
	Name              string         `json:"name"`
	Streak            int            `json:"streak"`
	LastCompletedDate *calendar.Date `json:"last_completed_date,omitempty"`
}

func (h *Handler) createHabit(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req CreateHabitRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "name is required")
		return
	}
	habit := domain.Habit{ID: uuid.NewString(), AccountID: accountID, Name: strings.TrimSpace(req.Name)}
	if err := h.deps.Registry.CreateHabit(r.Context(), habit); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, HabitResponse{ID: habit.ID, AccountID: habit.AccountID, Name: habit.Name})
}

// ExperienceRequest grants experience points.
type ExperienceRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) grantExperience(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req ExperienceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Delta < 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "delta must not be negative")
		return
	}
	snap, err := h.deps.Ledger.ApplyExperience(r.Context(), accountID, req.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// TitleRequest selects the displayed title. An empty key clears it.
type TitleRequest struct {
	AchievementKey string `json:"achievement_key"`
}

func (h *Handler) selectTitle(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req TitleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.deps.Achievements.SelectTitle(r.Context(), accountID, strings.TrimSpace(req.AchievementKey)); err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := h.deps.Ledger.Snapshot(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) logWorkout(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req tracking.LogWorkoutInput
	if !decode(w, r, &req) {
		return
	}
	req.AccountID = accountID
	out, err := h.deps.Tracking.LogWorkout(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) deleteWorkout(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	if _, err := h.deps.Tracking.DeleteWorkout(r.Context(), accountID, r.PathValue("workout")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logMeal(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req tracking.LogMealInput
	if !decode(w, r, &req) {
		return
	}
	req.AccountID = accountID
	out, err := h.deps.Tracking.LogMeal(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) logSteps(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req tracking.LogStepsInput
	if !decode(w, r, &req) {
		return
	}
	req.AccountID = accountID
	out, err := h.deps.Tracking.LogSteps(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// PersonalRecordResponse answers a personal record lookup.
type PersonalRecordResponse struct {
	Exercise string `json:"exercise"`
	IsPR     bool   `json:"is_pr"`
}

func (h *Handler) personalRecord(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeRead) {
		return
	}
	q := r.URL.Query()
	exercise := q.Get("exercise")
	weight, err := strconv.ParseFloat(q.Get("weight"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "weight must be a number")
		return
	}
	reps, err := strconv.Atoi(q.Get("reps"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "reps must be an integer")
		return
	}
	isPR, err := h.deps.Records.IsPersonalRecord(r.Context(), accountID, exercise, weight, reps)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PersonalRecordResponse{Exercise: domain.NormalizeExercise(exercise), IsPR: isPR})
}

// ActionRequest is the tagged JSON form of an achievement action.
type ActionRequest struct {
	Type          achievement.ActionType `json:"type"`
	TotalWorkouts int                    `json:"total_workouts"`
	SessionReps   map[string]int         `json:"session_reps"`
	TotalPRs      int                    `json:"total_prs"`
	Exercise      string                 `json:"exercise"`
	Streak        int                    `json:"streak"`
	Level         int                    `json:"level"`
	Steps         int                    `json:"steps"`
	TotalMeals    int                    `json:"total_meals"`
}

// Action converts the request into its typed variant.
func (a ActionRequest) Action() (achievement.Action, error) {
	switch a.Type {
	case achievement.ActionWorkoutLogged:
		reps := make(map[string]int, len(a.SessionReps))
		for exercise, n := range a.SessionReps {
			reps[domain.NormalizeExercise(exercise)] += n
		}
		return achievement.WorkoutLogged{TotalWorkouts: a.TotalWorkouts, SessionReps: reps}, nil
	case achievement.ActionPRHit:
		return achievement.PRHit{TotalPRs: a.TotalPRs, Exercise: a.Exercise}, nil
	case achievement.ActionHabitCheckedIn:
		return achievement.HabitCheckedIn{Streak: a.Streak}, nil
	case achievement.ActionLevelUp:
		return achievement.LeveledUp{Level: a.Level}, nil
	case achievement.ActionStepsLogged:
		return achievement.StepsLogged{Steps: a.Steps}, nil
	case achievement.ActionMealLogged:
		return achievement.MealLogged{TotalMeals: a.TotalMeals}, nil
	default:
		return nil, domain.Invalid("type", "is not a known action type")
	}
}

func (h *Handler) evaluateAchievements(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	var req ActionRequest
	if !decode(w, r, &req) {
		return
	}
	action, err := req.Action()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	unlocked, err := h.deps.Achievements.Evaluate(r.Context(), accountID, action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"unlocked": unlocked})
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.FromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"achievements": h.deps.Achievements.Catalog().Entries()})
}

// CheckInRequest optionally names the calendar day being completed.
type CheckInRequest struct {
	Date string `json:"date,omitempty"`
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	habitID := r.PathValue("id")
	owner, err := h.deps.Habits.HabitOwner(r.Context(), habitID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !authorize(w, r, owner, auth.ScopeWrite) {
		return
	}
	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	loc := h.deps.Streaks.Location()
	when := h.now()
	if req.Date != "" {
		day, err := calendar.Parse(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
			return
		}
		// Only today, or yesterday for late syncs, may be checked in.
		today := calendar.DayOf(when, loc)
		if today.Before(day) || day.Before(today.AddDays(-1)) {
			writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("date must be %s or %s", today.AddDays(-1), today))
			return
		}
		when = day.Start(loc)
	}
	result, err := h.deps.Streaks.CheckIn(r.Context(), habitID, when)
	if errors.Is(err, domain.ErrAlreadyCompleted) {
		writeJSON(w, http.StatusConflict, conflictResponse{Type: "already_completed", Detail: err.Error(), Result: result})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SummaryResponse is the API view of a daily summary.
type SummaryResponse struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"account_id"`
	Date            calendar.Date `json:"date"`
	CaloriesIn      float64       `json:"calories_in"`
	BMR             float64       `json:"bmr"`
	StepCalories    float64       `json:"step_calories"`
	WorkoutCalories float64       `json:"workout_calories"`
	CaloriesOut     float64       `json:"calories_out"`
	FinalBalance    float64       `json:"final_balance"`
	Steps           int           `json:"steps"`
	MealCount       int           `json:"meal_count"`
	WorkoutCount    int           `json:"workout_count"`
	IsFinalized     bool          `json:"is_finalized"`
	FinalizedAt     *time.Time    `json:"finalized_at,omitempty"`
}

func toSummaryResponse(s domain.DailySummary) SummaryResponse {
	return SummaryResponse{
		ID:              s.ID,
		AccountID:       s.AccountID,
		Date:            s.Date,
		CaloriesIn:      s.CaloriesIn,
		BMR:             s.BMR,
		StepCalories:    s.StepCalories,
		WorkoutCalories: s.WorkoutCalories,
		CaloriesOut:     s.CaloriesOut,
		FinalBalance:    s.FinalBalance,
		Steps:           s.Steps,
		MealCount:       s.MealCount,
		WorkoutCount:    s.WorkoutCount,
		IsFinalized:     s.IsFinalized,
		FinalizedAt:     s.FinalizedAt,
	}
}

func (h *Handler) finalizeSummary(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if !authorize(w, r, accountID, auth.ScopeWrite) {
		return
	}
	date, err := calendar.Parse(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if force && !requireAdmin(w, r) {
		return
	}

	var summary domain.DailySummary
	if force {
		summary, err = h.deps.Reconciler.Reprocess(r.Context(), accountID, date)
	} else {
		summary, err = h.deps.Reconciler.Finalize(r.Context(), accountID, date)
	}
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		writeJSON(w, http.StatusConflict, conflictResponse{Type: "already_done", Detail: err.Error(), Result: toSummaryResponse(summary)})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (h *Handler) finalizeAll(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	date, err := calendar.Parse(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return
	}
	report, err := h.deps.Reconciler.FinalizeAll(r.Context(), date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type conflictResponse struct {
	Type   string      `json:"type"`
	Detail string      `json:"detail"`
	Result interface{} `json:"result,omitempty"`
}

// writeDomainError maps service errors onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrDayInProgress):
		writeError(w, http.StatusConflict, "day_in_progress", err.Error())
	case errors.Is(err, domain.ErrSummaryClaimed):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case domain.IsConflict(err):
		writeError(w, http.StatusConflict, "already_done", err.Error())
	case errors.Is(err, domain.ErrMissingMetrics),
		errors.Is(err, domain.ErrAchievementLocked),
		errors.Is(err, domain.ErrNotATitle):
		writeError(w, http.StatusUnprocessableEntity, "missing_prerequisite", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
