package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
	"github.com/warp/points-ledger/store/sqlite"
)

// seed writes a small ledger to a fresh SQLite file and returns its path.
func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)

	ctx := context.Background()
	c := points.New(s)
	_, err = c.Apply(ctx, "u1", rewards.Grant{Amount: 40, Reason: "achievement"}, "g1")
	require.NoError(t, err)
	_, err = c.Apply(ctx, "u1", rewards.Deduction{Amount: 15, Reason: "redemption"}, "d1")
	require.NoError(t, err)
	_, err = c.Apply(ctx, "u2", rewards.DailyLogin{}, "l1")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBalanceCommand(t *testing.T) {
	path := seed(t)

	out, err := execute(t, "balance", "u1", "--driver", "sqlite", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "u1\t25\n", out)
}

func TestHistoryCommand(t *testing.T) {
	path := seed(t)

	out, err := execute(t, "history", "u1", "--driver", "sqlite", "--db", path, "--reason", "redemption")
	require.NoError(t, err)
	assert.Contains(t, out, "REASON")
	assert.Contains(t, out, "redemption")
	assert.Contains(t, out, "-15")
	assert.NotContains(t, out, "achievement")
}

func TestVerifyCommand(t *testing.T) {
	path := seed(t)

	out, err := execute(t, "verify", "--driver", "sqlite", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 accounts checked, 0 violations")

	out, err = execute(t, "verify", "u2", "--driver", "sqlite", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "u2: ok\n", out)
}

func TestSeedCommand_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.db")

	out, err := execute(t, "seed", "quiz-and-redeem", "--driver", "sqlite", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "quiz-and-redeem: 4 entries created, 0 replayed\n", out)

	out, err = execute(t, "seed", "quiz-and-redeem", "--driver", "sqlite", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "quiz-and-redeem: 0 entries created, 4 replayed\n", out)

	out, err = execute(t, "balance", "demo-shopper", "--driver", "sqlite", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "demo-shopper\t85\n", out)
}

func TestUnknownDriver(t *testing.T) {
	_, err := execute(t, "balance", "u1", "--driver", "postgres", "--db", "x")
	assert.Error(t, err)
}
