package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/config"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/observability"
)

func TestControllersRecordTheirOwnEndpoint(t *testing.T) {
	home := isolateCLI(t)
	t.Setenv("PLATESCAN_HISTORY_ENABLED", "true")
	t.Setenv("PLATESCAN_DB_PATH", filepath.Join(home, "history.db"))
	ctx := context.Background()

	webhook := func() *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprint(w, eggResponse)
		}))
		t.Cleanup(srv.Close)
		return srv
	}
	oldHook, newHook := webhook(), webhook()

	cfg, err := config.Load(ctx, "", map[string]any{"analysis.endpoint": oldHook.URL})
	require.NoError(t, err)
	db, err := openHistory(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, db)
	t.Cleanup(func() { _ = db.Close() })

	logger := observability.CLILogger
	before := newController(newAnalysisClient(cfg, logger), db, logger)

	// A reload swaps the endpoint for controllers built from now on.
	reloaded := *cfg
	reloaded.Analysis.Endpoint = newHook.URL
	after := newController(newAnalysisClient(&reloaded, logger), db, logger)

	blob, err := imagesource.NewFilePicker(writeMealJPEG(t, t.TempDir())).Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, before.Select(blob))
	require.NoError(t, after.Select(blob))

	_, err = after.Analyze(ctx)
	require.NoError(t, err)
	_, err = before.Analyze(ctx)
	require.NoError(t, err)

	records, err := db.ListAnalyses(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	endpoints := map[string]int{}
	for _, r := range records {
		endpoints[r.Endpoint]++
	}
	assert.Equal(t, map[string]int{oldHook.URL: 1, newHook.URL: 1}, endpoints)
}
