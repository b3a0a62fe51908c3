package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/parcelworks/shippo-extract/internal/testutil"
	"github.com/parcelworks/shippo-extract/pkg/client"
	"github.com/parcelworks/shippo-extract/pkg/singer"
	"github.com/parcelworks/shippo-extract/pkg/state"
	"github.com/parcelworks/shippo-extract/pkg/sync"
)

var startDate = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newExtractor(t *testing.T, mock *testutil.MockShippo, store state.CheckpointStore, out *bytes.Buffer) *sync.Syncer {
	t.Helper()

	cfg := client.DefaultConfig("shippo_test_token")
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialBackoff = 5 * time.Millisecond
	apiClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create API client: %v", err)
	}

	syncer, err := sync.New(apiClient, singer.NewWriter(out), store, sync.Config{
		BaseURL:   mock.URL(),
		PageSize:  2,
		StartDate: startDate,
	})
	if err != nil {
		t.Fatalf("Failed to create syncer: %v", err)
	}
	return syncer
}

// messagesByType decodes the emitted JSON lines and buckets them.
func messagesByType(t *testing.T, out *bytes.Buffer) map[string][]map[string]any {
	t.Helper()

	byType := map[string][]map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(out.Bytes()))
	for dec.More() {
		var msg map[string]any
		if err := dec.Decode(&msg); err != nil {
			t.Fatalf("Failed to decode emitted message: %v", err)
		}
		typ, _ := msg["type"].(string)
		byType[typ] = append(byType[typ], msg)
	}
	return byType
}

func loadRunState(t *testing.T, ctx context.Context, store state.CheckpointStore) *state.RunState {
	t.Helper()

	snapshot, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}
	rs, err := state.Load(snapshot, startDate)
	if err != nil {
		t.Fatalf("Failed to parse checkpoint: %v", err)
	}
	return rs
}

// TestFullExtractionFlow runs a complete extraction against the mock
// API with the checkpoint persisted in Redis.
func TestFullExtractionFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockShippo()
	defer mock.Close()

	day := 24 * time.Hour
	mock.LoadStream("addresses",
		testutil.NewRecord("adr_1", startDate.Add(day)),
		testutil.NewRecord("adr_2", startDate.Add(2*day)),
		testutil.NewRecord("adr_3", startDate.Add(3*day)),
	)
	mock.LoadStream("parcels", testutil.NewRecord("pcl_1", startDate.Add(day)))
	mock.LoadStream("shipments")
	mock.LoadStream("transactions")
	mock.LoadStream("refunds")

	store := state.NewRedisStore(redisClient, "shippo-extract:test:state")
	var out bytes.Buffer
	syncer := newExtractor(t, mock, store, &out)

	ctx := context.Background()
	if err := syncer.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if mock.LastRequestAuth != "ShippoToken shippo_test_token" {
		t.Errorf("Unexpected auth header %q", mock.LastRequestAuth)
	}

	byType := messagesByType(t, &out)
	if got := len(byType["SCHEMA"]); got != 5 {
		t.Errorf("Schemas emitted = %d, want 5", got)
	}
	if got := len(byType["RECORD"]); got != 4 {
		t.Errorf("Records emitted = %d, want 4", got)
	}
	// Addresses paginate into two pages at page size 2, every other
	// stream is a single page.
	if got := len(byType["STATE"]); got != 6 {
		t.Errorf("State messages emitted = %d, want 6", got)
	}

	rs := loadRunState(t, ctx, store)
	if rs.CurrentStream != "" {
		t.Errorf("Expected no stream in flight, got %q", rs.CurrentStream)
	}
	if got := rs.Streams["addresses"].HighWaterMark; !got.Equal(startDate.Add(3 * day)) {
		t.Errorf("Addresses watermark = %v, want %v", got, startDate.Add(3*day))
	}
	if rs.Streams["addresses"].ResumeCursor != "" {
		t.Errorf("Expected cleared cursor, got %q", rs.Streams["addresses"].ResumeCursor)
	}
}

// TestResumeAfterFailure interrupts an extraction with an auth failure
// mid-stream, then resumes from the Redis checkpoint once the endpoint
// recovers.
func TestResumeAfterFailure(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockShippo()
	defer mock.Close()

	day := 24 * time.Hour
	mock.LoadStream("addresses", testutil.NewRecord("adr_1", startDate.Add(day)))
	mock.LoadStream("shipments")
	mock.LoadStream("transactions")
	mock.LoadStream("refunds")

	// Parcels: page 1 succeeds, page 2 fails with a 401 until the
	// handler is repaired.
	parcelsPage2 := fmt.Sprintf("%s/parcels?results=2&page=2", mock.URL())
	broken := true
	mock.SetHandler("/parcels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			if broken {
				http.Error(w, `{"detail": "Invalid token."}`, http.StatusUnauthorized)
				return
			}
			fmt.Fprintf(w, `{"results": [{"object_id": "pcl_3", "object_updated": %q}], "next": null}`,
				startDate.Add(3*day).Format(time.RFC3339))
			return
		}
		fmt.Fprintf(w, `{"results": [
			{"object_id": "pcl_1", "object_updated": %q},
			{"object_id": "pcl_2", "object_updated": %q}
		], "next": %q}`,
			startDate.Add(day).Format(time.RFC3339),
			startDate.Add(2*day).Format(time.RFC3339),
			parcelsPage2)
	})

	store := state.NewRedisStore(redisClient, "shippo-extract:test:state")
	ctx := context.Background()

	var firstOut bytes.Buffer
	syncer := newExtractor(t, mock, store, &firstOut)
	if err := syncer.Run(ctx); err == nil {
		t.Fatal("Expected the first run to fail on the 401")
	}

	rs := loadRunState(t, ctx, store)
	if rs.CurrentStream != "parcels" {
		t.Fatalf("Expected parcels in flight, got %q", rs.CurrentStream)
	}
	if got := rs.ResumeCursor(); got != parcelsPage2 {
		t.Fatalf("Resume cursor = %q, want %q", got, parcelsPage2)
	}

	// Repair the endpoint and resume.
	broken = false
	var secondOut bytes.Buffer
	syncer = newExtractor(t, mock, store, &secondOut)
	if err := syncer.Run(ctx); err != nil {
		t.Fatalf("Resumed run error = %v", err)
	}

	byType := messagesByType(t, &secondOut)
	var resumedIDs []string
	for _, msg := range byType["RECORD"] {
		if msg["stream"] == "parcels" {
			record := msg["record"].(map[string]any)
			resumedIDs = append(resumedIDs, record["object_id"].(string))
		}
	}
	if len(resumedIDs) != 1 || resumedIDs[0] != "pcl_3" {
		t.Errorf("Resumed parcels records = %v, want [pcl_3]", resumedIDs)
	}
	// Addresses were committed in the first run and must not be
	// revisited on resume.
	for _, msg := range byType["SCHEMA"] {
		if msg["stream"] == "addresses" {
			t.Error("Addresses should be skipped on resume")
		}
	}

	final := loadRunState(t, ctx, store)
	if final.CurrentStream != "" {
		t.Errorf("Expected no stream in flight after resume, got %q", final.CurrentStream)
	}
	if got := final.Streams["parcels"].HighWaterMark; !got.Equal(startDate.Add(3 * day)) {
		t.Errorf("Parcels watermark = %v, want %v", got, startDate.Add(3*day))
	}
}
