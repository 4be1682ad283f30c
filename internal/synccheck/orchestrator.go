// Package synccheck runs device sync checks against one instance as a
// bounded-concurrency batch and aggregates the outcomes. Every device is
// isolated: one device timing out or answering garbage becomes an error
// outcome in the summary, never a batch abort.
package synccheck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/netauto/nsosync/internal/database"
	"github.com/netauto/nsosync/internal/logutil"
	"github.com/netauto/nsosync/internal/nso"
)

// ErrNoDevices reports a batch with nothing to check. An explicit empty
// selection is an operator mistake worth a failed response, not a
// vacuously successful one.
var ErrNoDevices = errors.New("no devices to check")

// DefaultWorkers bounds batch concurrency when no override is configured.
const DefaultWorkers = 10

// Summary aggregates one batch. InSync counts devices whose status is
// sync-acceptable (in-sync or locked); everything else, errors included,
// lands in OutOfSync. InSync+OutOfSync always equals Total.
type Summary struct {
	BatchID   string        `json:"batch_id"`
	Instance  string        `json:"instance"`
	Total     int           `json:"total"`
	InSync    int           `json:"in_sync"`
	OutOfSync int           `json:"out_of_sync"`
	Results   []nso.Outcome `json:"results"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Progress receives each outcome as its check completes, out of order.
// Used to stream live results; may be nil.
type Progress func(nso.Outcome)

// Orchestrator fans device checks out over a worker pool and records
// finished batches. A nil db disables persistence.
type Orchestrator struct {
	workers int
	db      *gorm.DB
}

func NewOrchestrator(workers int, db *gorm.DB) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Orchestrator{workers: workers, db: db}
}

// CheckAll lists the instance's devices and checks every one of them.
func (o *Orchestrator) CheckAll(ctx context.Context, instance string, client nso.Client, progress Progress) (Summary, error) {
	devices, err := client.ListDevices(ctx)
	if err != nil {
		return Summary{Instance: instance}, fmt.Errorf("listing devices on %s: %w", instance, err)
	}
	return o.checkBatch(ctx, instance, client, devices, progress)
}

// CheckSelected checks only the named devices. The caller's selection is
// trusted as-is; names unknown to the instance come back as error
// outcomes from the API.
func (o *Orchestrator) CheckSelected(ctx context.Context, instance string, client nso.Client, devices []string, progress Progress) (Summary, error) {
	return o.checkBatch(ctx, instance, client, devices, progress)
}

func (o *Orchestrator) checkBatch(ctx context.Context, instance string, client nso.Client, devices []string, progress Progress) (Summary, error) {
	started := time.Now()
	sum := Summary{
		BatchID:  uuid.NewString(),
		Instance: instance,
	}

	if len(devices) == 0 {
		return sum, ErrNoDevices
	}

	workers := o.workers
	if workers > len(devices) {
		workers = len(devices)
	}

	// Results land at their device's index so the summary preserves the
	// input order no matter which worker finished first.
	results := make([]nso.Outcome, len(devices))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out := o.checkOne(ctx, client, devices[i])
				results[i] = out
				if progress != nil {
					progress(out)
				}
			}
		}()
	}

	for i := range devices {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, out := range results {
		if out.Status.Acceptable() {
			sum.InSync++
		} else {
			sum.OutOfSync++
		}
	}
	sum.Total = len(results)
	sum.Results = results
	sum.Elapsed = time.Since(started)

	o.persist(sum)
	return sum, nil
}

// checkOne is the per-device isolation boundary. The client already maps
// its own failures to error outcomes; this catches anything that escapes
// as a panic so one bad device cannot take the batch down.
func (o *Orchestrator) checkOne(ctx context.Context, client nso.Client, device string) (out nso.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[synccheck] panic checking %s: %v", logutil.SanitizeForLog(device), r)
			out = nso.Outcome{Device: device, Status: nso.StatusError, Err: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return client.CheckDeviceSync(ctx, device)
}

// persist writes the batch to history. Failures are logged and swallowed:
// history is a convenience, the summary already went to the caller.
func (o *Orchestrator) persist(sum Summary) {
	if o.db == nil {
		return
	}

	batch := &database.SyncBatch{
		ID:           sum.BatchID,
		InstanceName: sum.Instance,
		Total:        sum.Total,
		InSync:       sum.InSync,
		OutOfSync:    sum.OutOfSync,
		ElapsedMs:    sum.Elapsed.Milliseconds(),
	}
	for _, out := range sum.Results {
		batch.Results = append(batch.Results, database.SyncResult{
			BatchID:  sum.BatchID,
			Device:   out.Device,
			Status:   string(out.Status),
			ErrorMsg: out.Err,
		})
	}

	if err := database.SaveBatch(o.db, batch); err != nil {
		log.Printf("[synccheck] saving batch %s: %v", sum.BatchID, err)
	}
}
