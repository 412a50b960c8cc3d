package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockProcessor struct {
	mu      sync.Mutex
	records []Record
	count   atomic.Int64
	err     error
}

func (p *mockProcessor) Process(ctx context.Context, rec Record) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()
	p.count.Add(1)
	return nil
}

type mockCollector struct {
	name    string
	records []Record
	err     error
	calls   atomic.Int64
}

func (c *mockCollector) Name() string { return c.name }

func (c *mockCollector) Collect(ctx context.Context) ([]Record, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.records, nil
}

func testManagerConfig() *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{
			Count:      2,
			BufferSize: 100,
		},
		Collection: config.CollectionConfig{
			PollInterval: time.Minute,
		},
	}
}

func sampleRecord(id string) Record {
	return Record{
		SourceID:    id,
		Kind:        "social",
		Author:      "witness_42",
		Text:        "large protest forming near the square",
		PublishedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalize(t *testing.T) {
	rec := Record{
		SourceID:    " 188812 ",
		Kind:        " Social ",
		Author:      " witness_42 ",
		Text:        "  clashes on main street  ",
		URL:         " https://example.org/p/188812 ",
		LocationRaw: " Paris ",
		PublishedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.FixedZone("CET", 3600)),
	}

	post, err := Normalize(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.ID != "social_188812" {
		t.Errorf("expected source-qualified id, got %q", post.ID)
	}
	if post.SourceKind != models.SourceSocial {
		t.Errorf("expected social kind, got %q", post.SourceKind)
	}
	if post.Text != "clashes on main street" {
		t.Errorf("expected trimmed text, got %q", post.Text)
	}
	if post.LocationRaw != "Paris" {
		t.Errorf("expected trimmed location, got %q", post.LocationRaw)
	}
	if post.PublishedAt.Hour() != 11 {
		t.Errorf("expected publish time in UTC, got %v", post.PublishedAt)
	}
	if post.IngestedAt.IsZero() {
		t.Error("expected ingested timestamp to be set")
	}
}

func TestNormalizeRejectsBadRecords(t *testing.T) {
	published := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		rec  Record
	}{
		{"unknown kind", Record{SourceID: "1", Kind: "carrier_pigeon", Text: "x", PublishedAt: published}},
		{"missing source id", Record{Kind: "social", Text: "x", PublishedAt: published}},
		{"missing text", Record{SourceID: "1", Kind: "social", PublishedAt: published}},
		{"missing publish time", Record{SourceID: "1", Kind: "social", Text: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.rec); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestManager_StartStop(t *testing.T) {
	mgr := NewManager(testManagerConfig(), &mockProcessor{})

	ctx, cancel := context.WithCancel(context.Background())

	// Start should not block
	mgr.Start(ctx)

	// Give it a moment
	time.Sleep(50 * time.Millisecond)

	cancel()
	mgr.Stop()

	// Should complete without hanging
}

func TestManager_CollectorFeedsProcessor(t *testing.T) {
	proc := &mockProcessor{}
	coll := &mockCollector{
		name:    "street-feed",
		records: []Record{sampleRecord("1"), sampleRecord("2"), sampleRecord("3")},
	}
	mgr := NewManager(testManagerConfig(), proc, coll)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	// The initial poll fires on start
	time.Sleep(300 * time.Millisecond)

	if got := proc.count.Load(); got != 3 {
		t.Errorf("expected 3 processed records, got %d", got)
	}

	status := mgr.Status()
	if len(status) != 1 {
		t.Fatalf("expected 1 collector status, got %d", len(status))
	}
	if status[0].Name != "street-feed" || status[0].LastCount != 3 || status[0].LastError != "" {
		t.Errorf("unexpected status: %+v", status[0])
	}

	cancel()
	mgr.Stop()
}

func TestManager_RunCycle(t *testing.T) {
	proc := &mockProcessor{}
	coll := &mockCollector{name: "street-feed", records: []Record{sampleRecord("1"), sampleRecord("2")}}
	mgr := NewManager(testManagerConfig(), proc, coll)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	mgr.RunCycle(ctx)
	time.Sleep(200 * time.Millisecond)

	// Initial poll plus the explicit cycle
	if got := coll.calls.Load(); got != 2 {
		t.Errorf("expected 2 collection calls, got %d", got)
	}
	if got := proc.count.Load(); got != 4 {
		t.Errorf("expected 4 processed records, got %d", got)
	}

	cancel()
	mgr.Stop()
}

func TestManager_CollectorErrorRecorded(t *testing.T) {
	proc := &mockProcessor{}
	coll := &mockCollector{name: "flaky-feed", err: fmt.Errorf("upstream 503")}
	mgr := NewManager(testManagerConfig(), proc, coll)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	time.Sleep(200 * time.Millisecond)

	status := mgr.Status()
	if len(status) != 1 || status[0].LastError == "" {
		t.Errorf("expected recorded collector error, got %+v", status)
	}
	if got := proc.count.Load(); got != 0 {
		t.Errorf("expected no processed records, got %d", got)
	}

	cancel()
	mgr.Stop()
}

func TestManager_ConcurrentSubmit(t *testing.T) {
	proc := &mockProcessor{}
	cfg := testManagerConfig()
	cfg.Worker.Count = 4
	mgr := NewManager(cfg, proc)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	var wg sync.WaitGroup
	numGoroutines := 10
	numPerGoroutine := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < numPerGoroutine; j++ {
				mgr.pool.Submit(sampleRecord(fmt.Sprintf("%d_%d", goroutineID, j)))
			}
		}(i)
	}

	wg.Wait()

	// Give workers time to process
	time.Sleep(200 * time.Millisecond)

	cancel()
	mgr.Stop()

	expected := int64(numGoroutines * numPerGoroutine)
	if got := proc.count.Load(); got != expected {
		t.Errorf("expected %d records processed, got %d", expected, got)
	}
}

func TestManager_GracefulShutdown(t *testing.T) {
	proc := &mockProcessor{}
	mgr := NewManager(testManagerConfig(), proc)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	for i := 0; i < 50; i++ {
		mgr.pool.Submit(sampleRecord(fmt.Sprintf("shutdown_%d", i)))
	}

	// Immediately cancel
	cancel()

	// Stop should wait for in-flight work
	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
		// Good, stopped gracefully
	case <-time.After(5 * time.Second):
		t.Fatal("manager.Stop() timed out - possible goroutine leak")
	}
}

func TestFeedCollector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := feedResponse{Posts: []feedPost{
			{
				ID:       "188812",
				Author:   "witness_42",
				Text:     "riot police moving in",
				URL:      "https://example.org/p/188812",
				Location: "Paris",
				Time:     time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC).UnixMilli(),
			},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewFeedCollector("street-feed", "social", srv.URL)
	defer c.client.CloseIdleConnections()

	records, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.SourceID != "188812" || rec.Kind != "social" {
		t.Errorf("unexpected record identity: %+v", rec)
	}
	if rec.LocationRaw != "Paris" {
		t.Errorf("expected raw location, got %q", rec.LocationRaw)
	}
	if !rec.PublishedAt.Equal(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected publish time: %v", rec.PublishedAt)
	}
}

func TestFeedCollectorBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewFeedCollector("street-feed", "social", srv.URL)
	defer c.client.CloseIdleConnections()

	if _, err := c.Collect(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestRSSCollector(t *testing.T) {
	const feed = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <item>
      <title>Clashes erupt downtown</title>
      <description>Police deployed tear gas near the central square.</description>
      <link>https://news.example.org/a/991</link>
      <guid>991</guid>
      <pubDate>Sat, 14 Mar 2026 12:00:00 +0000</pubDate>
    </item>
    <item>
      <title>No identity</title>
      <pubDate>Sat, 14 Mar 2026 12:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	c := NewRSSCollector("wire-news", srv.URL)
	defer c.client.CloseIdleConnections()

	records, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected identity-less item skipped, got %d records", len(records))
	}

	rec := records[0]
	if rec.SourceID != "991" || rec.Kind != "news" {
		t.Errorf("unexpected record identity: %+v", rec)
	}
	if rec.Text != "Clashes erupt downtown. Police deployed tear gas near the central square." {
		t.Errorf("unexpected joined text: %q", rec.Text)
	}
	if rec.PublishedAt.Hour() != 12 {
		t.Errorf("unexpected publish time: %v", rec.PublishedAt)
	}
}

func TestKafkaIntakeHandle(t *testing.T) {
	proc := &mockProcessor{}
	intake := NewKafkaIntake(config.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "raw-posts",
		GroupID: "test",
	}, proc)
	defer intake.reader.Close()

	payload, _ := json.Marshal(sampleRecord("k1"))
	if err := intake.handle(context.Background(), kafka.Message{Value: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := proc.count.Load(); got != 1 {
		t.Errorf("expected 1 processed record, got %d", got)
	}

	if err := intake.handle(context.Background(), kafka.Message{Value: []byte("{not json")}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestParsePubDate(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"Sat, 14 Mar 2026 12:00:00 +0000", false},
		{"Sat, 14 Mar 2026 12:00:00 UTC", false},
		{"yesterday-ish", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := parsePubDate(tt.raw)
		if tt.wantErr && err == nil {
			t.Errorf("expected error for %q", tt.raw)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tt.raw, err)
		}
	}
}
