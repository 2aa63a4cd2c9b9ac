package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) {
	t.Helper()
	testConfig(t)
	cfg.Prefs.Driver = "sqlite"
	cfg.Prefs.Path = filepath.Join(t.TempDir(), "prefs.db")
}

func runPrefs(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetContext(context.Background())
	t.Cleanup(func() { c.SetOut(nil) })
	err := c.RunE(c, args)
	return out.String(), err
}

func TestDurableKey(t *testing.T) {
	testConfig(t)

	k, err := durableKey("pageSize.cards")
	require.NoError(t, err)
	assert.Equal(t, "catalogsync:pageSize.cards", k)

	_, err = durableKey("dismissedMessages")
	assert.ErrorContains(t, err, "not durable")

	_, err = durableKey("bogus")
	assert.ErrorContains(t, err, "unknown preference")
}

func TestPrefsCommands_SQLiteRoundTrip(t *testing.T) {
	sqliteConfig(t)

	out, err := runPrefs(t, prefsMigrateCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite preferences migrated")

	_, err = runPrefs(t, prefsSetCmd, "displayPriceType", `"foil"`)
	require.NoError(t, err)

	out, err = runPrefs(t, prefsGetCmd, "displayPriceType")
	require.NoError(t, err)
	assert.Equal(t, "\"foil\"\n", out)

	out, err = runPrefs(t, prefsListCmd)
	require.NoError(t, err)
	assert.Equal(t, "displayPriceType\n", out)

	_, err = runPrefs(t, prefsDeleteCmd, "displayPriceType")
	require.NoError(t, err)

	_, err = runPrefs(t, prefsGetCmd, "displayPriceType")
	assert.ErrorContains(t, err, "is not set")
}

func TestPrefsSet_RejectsInvalidJSON(t *testing.T) {
	sqliteConfig(t)
	_, err := runPrefs(t, prefsSetCmd, "displayPriceType", "foil")
	assert.ErrorContains(t, err, "must be JSON")
}

func TestPrefsCommands_InvalidDriver(t *testing.T) {
	testConfig(t)
	cfg.Prefs.Driver = "redis"
	_, err := runPrefs(t, prefsMigrateCmd)
	assert.ErrorContains(t, err, "prefs.driver")
}
