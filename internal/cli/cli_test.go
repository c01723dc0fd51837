package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/progression/internal/app"
	"example.com/progression/internal/config"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/formula"
	"example.com/progression/internal/persistence/memory"
	"example.com/progression/internal/progression"
)

func memoryFactory(t *testing.T, store *memory.Store) EngineFactory {
	t.Helper()
	return func(_ context.Context, cfg config.Config, logger *log.Logger) (*app.Engine, func(), error) {
		engine, err := app.Wire(store, time.UTC, cfg, logger)
		return engine, func() {}, err
	}
}

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.PutAccount(progression.NewAccount("acc-1", formula.DefaultRules()))
	store.PutProfile(domain.Profile{AccountID: "acc-1", Gender: domain.GenderFemale, AgeYears: 30, WeightKg: 60, HeightCm: 165})
	store.PutAccount(progression.NewAccount("acc-2", formula.DefaultRules()))
	return store
}

func execute(t *testing.T, store *memory.Store, args ...string) (string, error) {
	t.Helper()
	cfg := config.Load()
	cfg.Store = config.StoreMemory
	root := NewRootCommand(&RootOptions{Config: cfg, Factory: memoryFactory(t, store), Logger: log.New(io.Discard, "", 0)})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFinalizeSingleAccount(t *testing.T) {
	store := seededStore()

	out, err := execute(t, store, "finalize", "--date", "2025-03-10", "--account", "acc-1", "--format", "json")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, "acc-1", body["account_id"])
	require.Equal(t, "2025-03-10", body["date"])
	require.Equal(t, false, body["already_finalized"])

	out, err = execute(t, store, "finalize", "--date", "2025-03-10", "--account", "acc-1")
	require.NoError(t, err)
	require.Contains(t, out, "already finalized")

	out, err = execute(t, store, "finalize", "--date", "2025-03-10", "--account", "acc-1", "--force")
	require.NoError(t, err)
	require.Contains(t, out, "acc-1 2025-03-10 finalized")
}

func TestFinalizeAllReportsSkipped(t *testing.T) {
	store := seededStore()

	out, err := execute(t, store, "finalize", "--date", "2025-03-10", "--format", "json")
	require.NoError(t, err)
	var report struct {
		Finalized []string `json:"finalized"`
		Skipped   []struct {
			AccountID string `json:"account_id"`
		} `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, []string{"acc-1"}, report.Finalized)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, "acc-2", report.Skipped[0].AccountID)
}

func TestFinalizeFlagValidation(t *testing.T) {
	store := seededStore()

	_, err := execute(t, store, "finalize", "--force")
	require.ErrorContains(t, err, "--force requires --account")

	_, err = execute(t, store, "finalize", "--date", "11/03/2025", "--account", "acc-1")
	require.ErrorContains(t, err, "--date")

	_, err = execute(t, store, "finalize", "--format", "yaml")
	require.ErrorContains(t, err, "invalid format")
}

func TestDLQReplayNeedsPostgres(t *testing.T) {
	_, err := execute(t, seededStore(), "dlq", "replay")
	require.ErrorContains(t, err, "postgres")
}
