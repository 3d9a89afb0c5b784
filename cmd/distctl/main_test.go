package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--output", "human")
	require.NoError(t, err)
	assert.Equal(t, "distctl dev (none)\n", out)

	out, err = execute(t, "version", "--output", "json")
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, map[string]string{"version": "dev", "hash": "none"}, decoded)

	_, err = execute(t, "version", "--output", "yaml")
	assert.Error(t, err)
}

func TestParseNow(t *testing.T) {
	require.NoError(t, settleDueCmd.Flags().Set(nowFlagName, "2024-07-01T08:30:00Z"))
	now, err := parseNow(settleDueCmd)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 8, 30, 0, 0, time.UTC), now)

	require.NoError(t, settleDueCmd.Flags().Set(nowFlagName, "tomorrow"))
	_, err = parseNow(settleDueCmd)
	assert.Error(t, err)

	require.NoError(t, settleDueCmd.Flags().Set(nowFlagName, ""))
	now, err = parseNow(settleDueCmd)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now, time.Minute)
}
