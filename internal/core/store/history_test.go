package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/config"
	"github.com/viflex/platescan/internal/core"
)

func openSqlite(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.HistoryConfig{
		Enabled:    true,
		Driver:     "sqlite",
		Path:       ":memory:",
		MaxEntries: maxEntries,
	})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eggResult() *core.AnalysisResult {
	egg := core.Macros{Calories: 468, ProteinG: 37.8, CarbsG: 3.6, FatG: 31.8}
	return &core.AnalysisResult{
		Status: "success",
		Items:  []core.NutritionItem{{Name: "Egg", Quantity: "6 large", Macros: egg}},
		Total:  core.NutritionTotal{Macros: egg},
	}
}

func TestRecordAndGet(t *testing.T) {
	s := openSqlite(t, 0)
	require.Equal(t, "sqlite", s.Driver())

	blob := core.NewCaptureBlob([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	rec := s.RecorderFor(" http://localhost:5678/webhook/meal ")
	require.NoError(t, rec.Record(context.Background(), blob, eggResult()))

	records, err := s.ListAnalyses(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got, err := s.GetAnalysis(context.Background(), records[0].ID)
	require.NoError(t, err)
	require.Equal(t, core.CaptureFilename, got.Filename)
	require.Equal(t, core.MIMEJPEG, got.MIMEType)
	require.Equal(t, int64(4), got.ImageBytes)
	require.Equal(t, blob.Digest(), got.ImageDigest)
	require.Equal(t, "http://localhost:5678/webhook/meal", got.Endpoint)
	require.Equal(t, eggResult(), got.Result)
}

func TestRecordersKeepTheirOwnEndpoint(t *testing.T) {
	s := openSqlite(t, 0)
	blob := core.NewCaptureBlob([]byte{0xFF, 0xD8, 0xFF, 0xD9})

	before := s.RecorderFor("http://old.example/webhook/meal")
	after := s.RecorderFor("http://new.example/webhook/meal")
	require.NoError(t, before.Record(context.Background(), blob, eggResult()))
	require.NoError(t, after.Record(context.Background(), blob, eggResult()))
	require.NoError(t, before.Record(context.Background(), blob, eggResult()))
	require.NoError(t, s.Record(context.Background(), blob, eggResult()))

	records, err := s.ListAnalyses(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 4)

	counts := map[string]int{}
	for _, r := range records {
		counts[r.Endpoint]++
	}
	require.Equal(t, map[string]int{
		"http://old.example/webhook/meal": 2,
		"http://new.example/webhook/meal": 1,
		"":                                1,
	}, counts)
}

func TestListNewestFirstAndPrune(t *testing.T) {
	s := openSqlite(t, 2)
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	for i, name := range []string{"first", "second", "third"} {
		_, err := s.SaveAnalysis(context.Background(), &core.AnalysisRecord{
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Filename:  name + ".jpg",
			MIMEType:  core.MIMEJPEG,
			Result:    eggResult(),
		})
		require.NoError(t, err)
	}

	records, err := s.ListAnalyses(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "third.jpg", records[0].Filename)
	require.Equal(t, "second.jpg", records[1].Filename)
	require.True(t, records[0].CreatedAt.Equal(base.Add(2*time.Hour)))
}

func TestGetAndDeleteMissing(t *testing.T) {
	s := openSqlite(t, 0)

	_, err := s.GetAnalysis(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteAnalysis(context.Background(), "missing"), ErrNotFound)

	saved, err := s.SaveAnalysis(context.Background(), &core.AnalysisRecord{Filename: "a.png", MIMEType: core.MIMEPNG, Result: eggResult()})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.NoError(t, s.DeleteAnalysis(context.Background(), saved.ID))

	_, err = s.GetAnalysis(context.Background(), saved.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openSqlite(t, 0)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.HistoryConfig{Driver: "postgres", Path: "x"})
	require.Error(t, err)
}
