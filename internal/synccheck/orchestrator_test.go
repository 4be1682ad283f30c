package synccheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/netauto/nsosync/internal/database"
	"github.com/netauto/nsosync/internal/nso"
)

// fakeClient answers device checks from a canned map.
type fakeClient struct {
	devices  []string
	listErr  error
	statuses map[string]nso.SyncStatus
	panicOn  string
	delay    time.Duration

	inFlight    int64
	maxInFlight int64
}

func (f *fakeClient) TestConnection(ctx context.Context) nso.ConnResult {
	return nso.ConnResult{Success: true}
}

func (f *fakeClient) ListDevices(ctx context.Context) ([]string, error) {
	return f.devices, f.listErr
}

func (f *fakeClient) CheckDeviceSync(ctx context.Context, device string) nso.Outcome {
	cur := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)
	for {
		max := atomic.LoadInt64(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt64(&f.maxInFlight, max, cur) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if device == f.panicOn {
		panic("device exploded")
	}

	status, ok := f.statuses[device]
	if !ok {
		return nso.Outcome{Device: device, Status: nso.StatusError, Err: "no such device"}
	}
	return nso.Outcome{Device: device, Status: status}
}

func TestCheckAllAggregates(t *testing.T) {
	client := &fakeClient{
		devices: []string{"ce0", "ce1", "ce2"},
		statuses: map[string]nso.SyncStatus{
			"ce0": nso.StatusInSync,
			"ce1": nso.StatusOutOfSync,
			"ce2": nso.StatusLocked,
		},
	}

	sum, err := NewOrchestrator(0, nil).CheckAll(context.Background(), "titan-e2e", client, nil)
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if sum.Total != 3 || sum.InSync != 2 || sum.OutOfSync != 1 {
		t.Errorf("summary = total %d, in %d, out %d; want 3/2/1", sum.Total, sum.InSync, sum.OutOfSync)
	}
	if sum.BatchID == "" {
		t.Error("batch id missing")
	}
	if len(sum.Results) != 3 || sum.Results[0].Device != "ce0" {
		t.Errorf("results out of order: %+v", sum.Results)
	}
}

func TestCheckAllListFailure(t *testing.T) {
	client := &fakeClient{listErr: errors.New("HTTP 503")}

	_, err := NewOrchestrator(0, nil).CheckAll(context.Background(), "titan-e2e", client, nil)
	if err == nil {
		t.Fatal("expected error when the device list cannot be fetched")
	}
}

func TestCheckSelectedEmpty(t *testing.T) {
	client := &fakeClient{}

	sum, err := NewOrchestrator(0, nil).CheckSelected(context.Background(), "titan-e2e", client, nil, nil)
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("err = %v, want ErrNoDevices", err)
	}
	if sum.Total != 0 || sum.InSync != 0 || sum.OutOfSync != 0 {
		t.Errorf("empty selection produced counts: %+v", sum)
	}
}

func TestPerDeviceFailureIsolation(t *testing.T) {
	client := &fakeClient{
		statuses: map[string]nso.SyncStatus{
			"good": nso.StatusInSync,
		},
		panicOn: "boom",
	}

	sum, err := NewOrchestrator(0, nil).CheckSelected(context.Background(), "titan-e2e",
		client, []string{"good", "boom", "missing"}, nil)
	if err != nil {
		t.Fatalf("CheckSelected: %v", err)
	}

	if sum.Total != 3 {
		t.Fatalf("total = %d, want 3", sum.Total)
	}
	if sum.InSync != 1 || sum.OutOfSync != 2 {
		t.Errorf("in %d, out %d; want 1/2", sum.InSync, sum.OutOfSync)
	}
	if sum.InSync+sum.OutOfSync != sum.Total {
		t.Errorf("counts do not add up: %+v", sum)
	}

	byDevice := map[string]nso.Outcome{}
	for _, out := range sum.Results {
		byDevice[out.Device] = out
	}
	if byDevice["boom"].Status != nso.StatusError || byDevice["boom"].Err == "" {
		t.Errorf("panicking device outcome = %+v, want error with detail", byDevice["boom"])
	}
}

func TestWorkerPoolBounded(t *testing.T) {
	devices := make([]string, 40)
	statuses := map[string]nso.SyncStatus{}
	for i := range devices {
		name := "dev" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		devices[i] = name
		statuses[name] = nso.StatusInSync
	}
	client := &fakeClient{statuses: statuses, delay: 5 * time.Millisecond}

	sum, err := NewOrchestrator(4, nil).CheckSelected(context.Background(), "titan-e2e", client, devices, nil)
	if err != nil {
		t.Fatalf("CheckSelected: %v", err)
	}
	if sum.Total != 40 {
		t.Fatalf("total = %d", sum.Total)
	}
	if max := atomic.LoadInt64(&client.maxInFlight); max > 4 {
		t.Errorf("observed %d concurrent checks, pool is bounded at 4", max)
	}
}

func TestBatchPersisted(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := &fakeClient{
		statuses: map[string]nso.SyncStatus{
			"ce0": nso.StatusInSync,
			"ce1": nso.StatusOutOfSync,
		},
	}

	sum, err := NewOrchestrator(0, db).CheckSelected(context.Background(), "titan-e2e",
		client, []string{"ce0", "ce1"}, nil)
	if err != nil {
		t.Fatalf("CheckSelected: %v", err)
	}

	batches, err := database.RecentBatches(db, "titan-e2e", 5)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if batches[0].ID != sum.BatchID || len(batches[0].Results) != 2 {
		t.Errorf("stored batch = %+v", batches[0])
	}
}

func TestProgressSinkSeesEveryOutcome(t *testing.T) {
	client := &fakeClient{
		statuses: map[string]nso.SyncStatus{
			"ce0": nso.StatusInSync,
			"ce1": nso.StatusOutOfSync,
		},
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	progress := func(out nso.Outcome) {
		mu.Lock()
		seen[out.Device] = true
		mu.Unlock()
	}

	if _, err := NewOrchestrator(0, nil).CheckSelected(context.Background(), "titan-e2e",
		client, []string{"ce0", "ce1"}, progress); err != nil {
		t.Fatalf("CheckSelected: %v", err)
	}

	if !seen["ce0"] || !seen["ce1"] {
		t.Errorf("progress sink missed outcomes: %v", seen)
	}
}
