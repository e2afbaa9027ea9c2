package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

func TestImportLegacyJSON(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	legacy := `{
		"claude_work": [
			{"timestamp": "2026-03-29T10:00:00.123456+00:00Z", "value": 40.5, "five_hour_usage": 40.5, "seven_day_usage": 12},
			{"timestamp": "2026-01-01T00:00:00+00:00Z", "value": 1}
		],
		"firecrawl": [{"timestamp": "2026-03-29T11:00:00Z", "value": 9}],
		"openai": [{"timestamp": "2026-03-29T11:00:00Z", "value": 3}],
		"serpapi": [{"timestamp": "garbage", "value": 3}]
	}`
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := store.ImportLegacyJSON(ctx, path)
	if err != nil {
		t.Fatalf("ImportLegacyJSON: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d, want 2", n)
	}

	got, err := store.Query(ctx, core.ServiceClaudeWork, core.TimeWindow24h)
	if err != nil || len(got) != 1 {
		t.Fatalf("claude points = %v, %v", got, err)
	}
	if got[0].Windows["seven_day"] != 12 || *got[0].Percentage != 40.5 {
		t.Errorf("point = %+v", got[0])
	}
	if !got[0].Timestamp.Equal(time.Date(2026, time.March, 29, 10, 0, 0, 123000000, time.UTC)) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}

	again, err := store.ImportLegacyJSON(ctx, path)
	if err != nil || again != 0 {
		t.Errorf("second import = %d, %v; want no-op", again, err)
	}
}

func TestImportLegacyJSON_MissingFile(t *testing.T) {
	store := openTestStore(t)
	n, err := store.ImportLegacyJSON(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	if err != nil || n != 0 {
		t.Errorf("got %d, %v", n, err)
	}
}
