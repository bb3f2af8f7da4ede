package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("LEDGER_CONFIG", "")
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, 72*time.Hour, c.Import.RollbackGrace)
	assert.Equal(t, 24*time.Hour, c.Import.StagingTTL)
	assert.Equal(t, []string{"GBP", "EUR", "USD", "PLN"}, c.Import.SupportedCurrencies)
	assert.Equal(t, BackendMemory, c.Storage.Backend)
	assert.Equal(t, 5*time.Minute, c.Cache.MappingTTL)
	assert.Equal(t, 2, c.Queue.Workers)
	assert.Equal(t, "gemini-2.5-flash", c.Gemini.Model)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LEDGER_IMPORT_ROLLBACK_GRACE", "48h")
	t.Setenv("LEDGER_IMPORT_SUPPORTED_CURRENCIES", "gbp, chf")
	t.Setenv("LEDGER_SERVER_PORT", "9090")
	t.Setenv("LEDGER_LOG_PRETTY", "true")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, c.Import.RollbackGrace)
	assert.Equal(t, []string{"GBP", "CHF"}, c.Import.SupportedCurrencies)
	assert.Equal(t, "9090", c.Server.Port)
	assert.True(t, c.Log.Pretty)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEDGER_QUEUE_WORKERS=7\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LEDGER_QUEUE_WORKERS") })

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, c.Queue.Workers)
}

func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "ledger.yaml")
	content := `
storage:
  backend: bigquery
  project_id: my-project
  dataset: ledgers
import:
  staging_ttl: 2h
  supported_currencies: [GBP]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBigQuery, c.Storage.Backend)
	assert.Equal(t, "my-project", c.Storage.ProjectID)
	assert.Equal(t, 2*time.Hour, c.Import.StagingTTL)
	assert.Equal(t, []string{"GBP"}, c.Import.SupportedCurrencies)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"LEDGER_STORAGE_BACKEND": "sqlite"}, "unknown storage.backend"},
		{"bigquery without project", map[string]string{"LEDGER_STORAGE_BACKEND": "bigquery"}, "project_id"},
		{"zero grace", map[string]string{"LEDGER_IMPORT_ROLLBACK_GRACE": "0s"}, "rollback_grace"},
		{"no workers", map[string]string{"LEDGER_QUEUE_WORKERS": "0"}, "queue.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
