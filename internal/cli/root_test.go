package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stablekit", cmd.Use)
	assert.Contains(t, cmd.Long, "deduplicating logs")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"log", "push"}, {"log", "pop"}, {"log", "list"},
		{"vec", "push"}, {"vec", "pop"}, {"vec", "get"}, {"vec", "set"}, {"vec", "list"},
		{"map", "insert"}, {"map", "get"}, {"map", "remove"}, {"map", "list"},
		{"task", "list"}, {"task", "sweep"}, {"task", "delete"},
		{"regions"}, {"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(filepath.Join(path...), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("backend"))
}

func TestVecIdentityFlag(t *testing.T) {
	cmd := NewRootCommand()
	vecCmd, _, err := cmd.Find([]string{"vec"})
	require.NoError(t, err)

	flag := vecCmd.PersistentFlags().Lookup("identity")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestLogPopFlags(t *testing.T) {
	cmd := NewRootCommand()
	popCmd, _, err := cmd.Find([]string{"log", "pop"})
	require.NoError(t, err)

	backFlag := popCmd.Flags().Lookup("back")
	require.NotNil(t, backFlag)
	assert.Equal(t, "false", backFlag.DefValue)
}

func TestTaskSweepFlags(t *testing.T) {
	cmd := NewRootCommand()
	sweepCmd, _, err := cmd.Find([]string{"task", "sweep"})
	require.NoError(t, err)

	flag := sweepCmd.Flags().Lookup("stale-after")
	require.NotNil(t, flag)
	assert.Equal(t, "-1", flag.DefValue)
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "regions"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExecuteReportsConfigErrorAsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: mysql\n"), 0644))

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := Execute(context.Background(), []string{"--format", "json", "--config", path, "regions"}, stdout, stderr)
	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "invalid configuration")
}

func TestExecuteTextErrorGoesToStderr(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kit.db")

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := Execute(context.Background(), []string{"--db", db, "log", "list", "missing"}, stdout, stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Error [E004]")
	assert.Contains(t, stderr.String(), `region "missing" is not configured`)
}

func TestExecuteSuccess(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kit.db")

	stdout := &bytes.Buffer{}
	code := Execute(context.Background(), []string{"--db", db, "--format", "json", "regions"}, stdout, &bytes.Buffer{})
	require.Equal(t, ExitSuccess, code, stdout.String())

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Regions []regionView `json:"regions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Regions, 1)
	assert.Equal(t, "tasks", resp.Data.Regions[0].Name)
	assert.Equal(t, uint8(255), resp.Data.Regions[0].ID)
}
