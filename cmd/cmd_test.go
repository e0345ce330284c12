package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/config"
	"github.com/Ruscigno/vprism/pkg/models"
	"github.com/Ruscigno/vprism/pkg/provider"
)

func TestBuildRegistry(t *testing.T) {
	cfg := config.Default().Providers
	registry := buildRegistry(cfg, nil, zap.NewNop())
	assert.Equal(t, []string{"yfinance", "akshare"}, registry.Names())

	p, ok := registry.Get("akshare")
	require.True(t, ok)
	_, wrapped := p.(*provider.Resilient)
	assert.True(t, wrapped)

	cfg.Enabled = []string{"akshare"}
	assert.Equal(t, []string{"akshare"}, buildRegistry(cfg, nil, zap.NewNop()).Names())
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetArgs(nil)
	})
	require.NoError(t, RootCmd.Execute())
	return out.String()
}

func writeTestConfig(t *testing.T, yahooURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := fmt.Sprintf(`
[logging]
level = "error"

[providers]
enabled = ["yfinance"]
max_retries = 0
yfinance_url = %q
`, yahooURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	path := writeTestConfig(t, "http://127.0.0.1:1")
	assert.Equal(t, "vprism dev\n", run(t, "--config", path, "version"))
}

func TestVersionFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
version = "1.2.3"

[logging]
level = "error"
`), 0o600))
	assert.Equal(t, "vprism 1.2.3\n", run(t, "--config", path, "version"))
	assert.Equal(t, "dev", appVersion(config.Default()))
}

func TestSymbolsCommand(t *testing.T) {
	path := writeTestConfig(t, "http://127.0.0.1:1")
	out := run(t, "--config", path, "symbols", "--market", "cn")
	assert.Contains(t, out, "600519\n")
}

func TestFetchCommand(t *testing.T) {
	yahoo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{
			"meta":{"currency":"USD"},
			"timestamp":[1704205800,1704292200],
			"indicators":{"quote":[{"open":[187.15,184.22],"high":[188.44,185.88],"low":[183.885,183.43],"close":[185.64,184.25],"volume":[82488700,58414500]}]}
		}],"error":null}}`))
	}))
	defer yahoo.Close()

	path := writeTestConfig(t, yahoo.URL)
	out := run(t, "--config", path, "fetch", "AAPL", "MSFT", "--limit", "1")

	var items []models.BatchItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)
	for i, symbol := range []string{"AAPL", "MSFT"} {
		require.NotNil(t, items[i].Data, symbol)
		require.Len(t, items[i].Data.Data, 1)
		assert.Equal(t, symbol, items[i].Data.Data[0].Symbol)
		assert.Equal(t, "yfinance", items[i].Data.Metadata.DataSource)
	}
}
