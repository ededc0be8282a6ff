package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fund-etl/cli"
	"github.com/warp/fund-etl/workflow"
)

const feedHeader = "Date,Fund Code,Fund Name,Currency,NASDAQ,Share Class Assets (dly/$mils)\n"

type env struct {
	dir    string
	db     string
	source string
}

// newEnv runs the test in an empty directory with one feed directory
// holding Monday 2025-06-16 for both regions.
func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("FUND_ETL_SOURCE_RETRIES", "0")

	e := &env{dir: dir, db: filepath.Join(dir, "fund.db"), source: filepath.Join(dir, "data")}
	require.NoError(t, os.Mkdir(e.source, 0o755))
	rows := feedHeader +
		"6/16/2025,A,Fund A,USD,TA,\"1,000.00\"\n" +
		"6/16/2025,B,Fund B,USD,TB,250.5\n"
	for _, name := range []string{"amrs_daily.csv", "emea_daily.csv", "amrs_lookback.csv", "emea_lookback.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(e.source, name), []byte(rows), 0o600))
	}
	return e
}

func (e *env) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--db", e.db, "--source", e.source))
	err := cmd.Execute()
	return out.String(), err
}

func TestRunDaily(t *testing.T) {
	e := newEnv(t)

	// WHEN: loading for Tuesday
	out, err := e.exec(t, "run-daily", "--date", "2025-06-17")

	// THEN: Monday's feed is loaded
	require.NoError(t, err, out)
	assert.Contains(t, out, "daily_run COMPLETED")
	assert.Contains(t, out, "date=2025-06-17")
	assert.Contains(t, out, "processing data for 2025-06-16")

	// AND: the run is visible to later invocations
	out, err = e.exec(t, "runs", "--format", "json")
	require.NoError(t, err)
	var runs []workflow.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, workflow.KindDailyRun, runs[0].Kind)

	out, err = e.exec(t, "status", runs[0].ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, runs[0].ID+" daily_run COMPLETED"), out)

	out, err = e.exec(t, "missing-dates", "--region", "amrs", "--from", "2025-06-16", "--to", "2025-06-17")
	require.NoError(t, err)
	assert.Equal(t, "AMRS: 1 missing\n  2025-06-17\n", out)
}

func TestRunDaily_SourceMissingFails(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.Remove(filepath.Join(e.source, "emea_daily.csv")))

	out, err := e.exec(t, "run-daily", "--date", "2025-06-17")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "finished FAILED")
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, "source unavailable: EMEA daily feed")
}

func TestRunDaily_InvalidDate(t *testing.T) {
	e := newEnv(t)

	_, err := e.exec(t, "run-daily", "--date", "not-a-date")

	require.Error(t, err)
	out, err := e.exec(t, "runs")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"), "only the header row: %q", out)
}

func TestValidate_BackfillsMissingDate(t *testing.T) {
	e := newEnv(t)

	// GIVEN: an empty database
	// WHEN: validating against the lookback feed
	out, err := e.exec(t, "validate")

	// THEN: the missing date is reported and loaded
	require.NoError(t, err, out)
	assert.Contains(t, out, "validation COMPLETED")
	assert.Contains(t, out, "missing 2025-06-16")

	out, err = e.exec(t, "missing-dates", "--from", "2025-06-16", "--to", "2025-06-16")
	require.NoError(t, err)
	assert.Equal(t, "AMRS: complete\nEMEA: complete\n", out)
}

func TestValidate_InvalidMode(t *testing.T) {
	e := newEnv(t)

	_, err := e.exec(t, "validate", "--mode", "partial")

	require.Error(t, err)
}

func TestRuns_Filters(t *testing.T) {
	e := newEnv(t)
	_, err := e.exec(t, "run-daily", "--date", "2025-06-17")
	require.NoError(t, err)

	out, err := e.exec(t, "runs", "--kind", "validation")
	require.NoError(t, err)
	assert.NotContains(t, out, "daily_run")

	out, err = e.exec(t, "runs", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "daily_run")

	_, err = e.exec(t, "runs", "--kind", "weekly")
	assert.Error(t, err)
}

func TestStatus_NotFound(t *testing.T) {
	e := newEnv(t)

	_, err := e.exec(t, "status", "missing")

	require.Error(t, err)
	assert.True(t, workflow.IsNotFound(err))
}

func TestRecover(t *testing.T) {
	e := newEnv(t)

	out, err := e.exec(t, "recover")

	require.NoError(t, err)
	assert.Equal(t, "recovered 0 runs\n", out)
}

func TestInvalidFormat(t *testing.T) {
	e := newEnv(t)

	_, err := e.exec(t, "runs", "--format", "xml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}
