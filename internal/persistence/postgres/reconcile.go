package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
)

// WithClaimTTL overrides how long a reconciliation claim stays live.
func (s *Store) WithClaimTTL(ttl time.Duration) *Store {
	if ttl > 0 {
		s.claimTTL = ttl
	}
	return s
}

// AccountIDs implements domain.ReconciliationStore.
func (s *Store) AccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Profile implements domain.ReconciliationStore. Accounts without a profile
// row yield an empty profile.
func (s *Store) Profile(ctx context.Context, accountID string) (domain.Profile, error) {
	const query = `SELECT a.account_id, COALESCE(p.gender, ''), COALESCE(p.age_years, 0),
        COALESCE(p.weight_kg, 0), COALESCE(p.height_cm, 0)
        FROM accounts a LEFT JOIN profiles p ON p.account_id = a.account_id
        WHERE a.account_id=$1`

	var (
		profile domain.Profile
		gender  string
	)
	err := s.pool.QueryRow(ctx, query, accountID).Scan(&profile.AccountID, &gender, &profile.AgeYears, &profile.WeightKg, &profile.HeightCm)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Profile{}, err
	}
	profile.Gender = domain.Gender(gender)
	return profile, nil
}

// MealsBetween implements domain.ReconciliationStore over [from, to).
func (s *Store) MealsBetween(ctx context.Context, accountID string, from, to time.Time) ([]domain.MealLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT meal_id, eaten_at, ingredients FROM meal_logs
         WHERE account_id=$1 AND eaten_at >= $2 AND eaten_at < $3
         ORDER BY eaten_at, meal_id`,
		accountID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MealLog
	for rows.Next() {
		var (
			meal domain.MealLog
			body []byte
		)
		if err := rows.Scan(&meal.ID, &meal.EatenAt, &body); err != nil {
			return nil, err
		}
		var ingredients []ingredientRow
		if err := json.Unmarshal(body, &ingredients); err != nil {
			return nil, fmt.Errorf("decode ingredients of %s: %w", meal.ID, err)
		}
		meal.AccountID = accountID
		for _, ing := range ingredients {
			meal.Ingredients = append(meal.Ingredients, domain.Ingredient{Name: ing.Name, Grams: ing.Grams, CaloriesPer100g: ing.CaloriesPer100g})
		}
		out = append(out, meal)
	}
	return out, rows.Err()
}

// WorkoutsBetween implements domain.ReconciliationStore over [from, to).
func (s *Store) WorkoutsBetween(ctx context.Context, accountID string, from, to time.Time) ([]domain.WorkoutLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workout_id, performed_at, duration_min, met FROM workout_logs
         WHERE account_id=$1 AND performed_at >= $2 AND performed_at < $3
         ORDER BY performed_at, workout_id`,
		accountID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	var (
		out   []domain.WorkoutLog
		ids   []string
		index = map[string]int{}
	)
	for rows.Next() {
		var w domain.WorkoutLog
		if err := rows.Scan(&w.ID, &w.PerformedAt, &w.DurationMin, &w.MET); err != nil {
			rows.Close()
			return nil, err
		}
		w.AccountID = accountID
		index[w.ID] = len(out)
		ids = append(ids, w.ID)
		out = append(out, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	setRows, err := s.pool.Query(ctx,
		`SELECT workout_id, set_id, exercise, weight_kg, reps, is_pr FROM workout_sets
         WHERE workout_id = ANY($1) ORDER BY workout_id, position`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer setRows.Close()
	for setRows.Next() {
		var (
			workoutID string
			set       domain.WorkoutSet
		)
		if err := setRows.Scan(&workoutID, &set.ID, &set.Exercise, &set.WeightKg, &set.Reps, &set.IsPR); err != nil {
			return nil, err
		}
		i := index[workoutID]
		out[i].Sets = append(out[i].Sets, set)
	}
	return out, setRows.Err()
}

// StepsBetween implements domain.ReconciliationStore over [from, to).
func (s *Store) StepsBetween(ctx context.Context, accountID string, from, to time.Time) ([]domain.StepLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT step_id, recorded_at, step_count FROM step_logs
         WHERE account_id=$1 AND recorded_at >= $2 AND recorded_at < $3
         ORDER BY recorded_at, step_id`,
		accountID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StepLog
	for rows.Next() {
		st := domain.StepLog{AccountID: accountID}
		if err := rows.Scan(&st.ID, &st.RecordedAt, &st.Count); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// The final column reports whether a claim is still live, judged on the database clock.
const summaryColumns = `summary_id, account_id, summary_date, calories_in, bmr, step_calories, workout_calories,
    calories_out, final_balance, steps, meal_count, workout_count, is_finalized, finalized_at,
    COALESCE(claimed_at > NOW() - ($3 * INTERVAL '1 microsecond'), FALSE)`

func scanSummary(row pgx.Row) (domain.DailySummary, bool, error) {
	var (
		summary domain.DailySummary
		day     time.Time
		live    bool
	)
	err := row.Scan(
		&summary.ID, &summary.AccountID, &day, &summary.CaloriesIn, &summary.BMR, &summary.StepCalories,
		&summary.WorkoutCalories, &summary.CaloriesOut, &summary.FinalBalance, &summary.Steps,
		&summary.MealCount, &summary.WorkoutCount, &summary.IsFinalized, &summary.FinalizedAt, &live,
	)
	if err != nil {
		return domain.DailySummary{}, false, err
	}
	summary.Date = calendar.DayOf(day, time.UTC)
	return summary, live, nil
}

// ClaimSummary implements domain.ReconciliationStore. A claim older than the
// claim TTL is considered abandoned and may be taken over.
func (s *Store) ClaimSummary(ctx context.Context, accountID string, date calendar.Date, force bool) (domain.DailySummary, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.DailySummary{}, err
	}
	// Rollback after a successful commit is a no-op.
	defer tx.Rollback(ctx)

	day := date.Start(time.UTC)
	_, err = tx.Exec(ctx,
		`INSERT INTO daily_summaries (summary_id, account_id, summary_date) VALUES ($1,$2,$3)
         ON CONFLICT (account_id, summary_date) DO NOTHING`,
		uuid.NewString(), accountID, day,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			err = domain.ErrAccountNotFound
		}
		return domain.DailySummary{}, err
	}

	summary, live, err := scanSummary(tx.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM daily_summaries WHERE account_id=$1 AND summary_date=$2 FOR UPDATE`,
		accountID, day, s.claimTTL.Microseconds(),
	))
	if err != nil {
		return domain.DailySummary{}, err
	}

	if live {
		// The lazily created row must survive even when the claim is refused.
		if cerr := tx.Commit(ctx); cerr != nil {
			return domain.DailySummary{}, cerr
		}
		return summary, domain.ErrSummaryClaimed
	}
	if summary.IsFinalized && !force {
		if cerr := tx.Commit(ctx); cerr != nil {
			return domain.DailySummary{}, cerr
		}
		return summary, domain.ErrAlreadyFinalized
	}

	token := uuid.NewString()
	if _, err = tx.Exec(ctx, `UPDATE daily_summaries SET claimed_at=NOW(), claim_token=$2 WHERE summary_id=$1`, summary.ID, token); err != nil {
		return domain.DailySummary{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return domain.DailySummary{}, err
	}
	summary.ClaimToken = token
	return summary, nil
}

// SaveSummary implements domain.ReconciliationStore.
func (s *Store) SaveSummary(ctx context.Context, summary domain.DailySummary, event events.Envelope) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `UPDATE daily_summaries SET calories_in=$3, bmr=$4, step_calories=$5, workout_calories=$6,
        calories_out=$7, final_balance=$8, steps=$9, meal_count=$10, workout_count=$11,
        is_finalized=$12, finalized_at=$13, claimed_at=NULL, claim_token=NULL
        WHERE account_id=$1 AND summary_date=$2 AND claim_token=$14`

	tag, err := tx.Exec(ctx, stmt,
		summary.AccountID, summary.Date.Start(time.UTC),
		summary.CaloriesIn, summary.BMR, summary.StepCalories, summary.WorkoutCalories,
		summary.CaloriesOut, summary.FinalBalance, summary.Steps, summary.MealCount, summary.WorkoutCount,
		summary.IsFinalized, summary.FinalizedAt, claimParam(summary.ClaimToken),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("summary %s/%s is not held by this run: %w", summary.AccountID, summary.Date, domain.ErrSummaryClaimed)
		return err
	}
	if event.Type != "" {
		if err = insertOutbox(ctx, tx, event); err != nil {
			return err
		}
	}
	err = tx.Commit(ctx)
	return err
}

// ReleaseClaim implements domain.ReconciliationStore.
func (s *Store) ReleaseClaim(ctx context.Context, summary domain.DailySummary) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE daily_summaries SET claimed_at=NULL, claim_token=NULL
         WHERE account_id=$1 AND summary_date=$2 AND claim_token=$3`,
		summary.AccountID, summary.Date.Start(time.UTC), claimParam(summary.ClaimToken),
	)
	return err
}

// claimParam maps an empty token to NULL so it never matches a row.
func claimParam(token string) interface{} {
	if token == "" {
		return nil
	}
	return token
}
