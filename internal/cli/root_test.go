package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaptx/internal/cli/config"
	"github.com/leapstack-labs/leaptx/internal/cli/testutil"
	"github.com/leapstack-labs/leaptx/internal/ledger"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	config.ResetConfig()

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

type account struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func openAccount(t *testing.T, owner, balance string) account {
	t.Helper()
	out, _, err := run(t, "account", "open", owner, balance, "-o", "json")
	require.NoError(t, err)

	var accounts []account
	require.NoError(t, json.Unmarshal([]byte(out), &accounts))
	require.Len(t, accounts, 1)
	return accounts[0]
}

func TestRoot_LedgerWorkflow(t *testing.T) {
	testutil.SetupTestProject(t)

	out, _, err := run(t, "migrate", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema at version 2")

	alice := openAccount(t, "alice", "100")
	bob := openAccount(t, "bob", "10")
	assert.Equal(t, int64(100), alice.Balance)

	out, _, err = run(t, "transfer", alice.ID, bob.ID, "5", "--repeat", "3", "-o", "json")
	require.NoError(t, err)
	var transfers []struct {
		Amount  int64 `json:"amount"`
		Audited bool  `json:"audited"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &transfers))
	require.Len(t, transfers, 3)
	for _, tr := range transfers {
		assert.Equal(t, int64(5), tr.Amount)
		assert.True(t, tr.Audited)
	}

	out, _, err = run(t, "account", "list", "-o", "json")
	require.NoError(t, err)
	var accounts []account
	require.NoError(t, json.Unmarshal([]byte(out), &accounts))
	balances := map[string]int64{}
	for _, a := range accounts {
		balances[a.Owner] = a.Balance
	}
	assert.Equal(t, map[string]int64{"alice": 85, "bob": 25}, balances)

	out, _, err = run(t, "account", "list", "-o", "markdown")
	require.NoError(t, err)
	testutil.AssertNoANSI(t, out)
	assert.ElementsMatch(t, []string{"alice", "bob"}, testutil.ExtractColumn(out, 1))
}

func TestRoot_TransferInsufficientFunds(t *testing.T) {
	testutil.SetupTestProject(t)
	_, _, err := run(t, "migrate")
	require.NoError(t, err)

	alice := openAccount(t, "alice", "1")
	bob := openAccount(t, "bob", "0")

	_, _, err = run(t, "transfer", alice.ID, bob.ID, "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestRoot_RequiresSchema(t *testing.T) {
	testutil.SetupTestProject(t)

	_, _, err := run(t, "account", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaptx migrate")
}

func TestRoot_MigrateDown(t *testing.T) {
	testutil.SetupTestProject(t)

	_, _, err := run(t, "migrate")
	require.NoError(t, err)

	out, _, err := run(t, "migrate", "down", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"target": "sqlite", "version": 1}`, out)

	out, _, err = run(t, "migrate", "status", "-o", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "- **Schema version:** 1")
}

func TestRoot_FlagsOverrideConfig(t *testing.T) {
	testutil.SetupTestProject(t)

	out, _, err := run(t, "config", "show", "--max-attempts", "9", "--isolation", "serializable")
	require.NoError(t, err)
	assert.Contains(t, out, "max_attempts: 9")
	assert.Contains(t, out, "isolation: serializable")
	assert.Contains(t, out, "# loaded from leaptx.yaml")
}

func TestRoot_InvalidConfig(t *testing.T) {
	testutil.SetupTestProject(t)

	_, _, err := run(t, "config", "show", "--type", "oracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter type")
}

func TestRoot_Version(t *testing.T) {
	testutil.SetupTestProject(t)

	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "leaptx v"+Version)
}

func TestCompletionCommand(t *testing.T) {
	out, _, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "leaptx")

	_, _, err = run(t, "completion", "tcsh")
	require.Error(t, err)
}

func TestRoot_LedgerRejectsDuckDB(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	_, _, err := run(t, "migrate", "--type", "duckdb", "--database", filepath.Join(dir, "ledger.duckdb"))
	require.ErrorIs(t, err, ledger.ErrUnsupportedDialect)
	assert.Contains(t, err.Error(), "Hint: use a sqlite or postgres target")
	assert.NoFileExists(t, filepath.Join(dir, "ledger.duckdb"), "no connection is opened")
}
