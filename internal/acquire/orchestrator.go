package acquire

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/bigbear0079/jimeng-pool/internal/browser"
	"github.com/bigbear0079/jimeng-pool/internal/credits"
	"github.com/bigbear0079/jimeng-pool/internal/ledger"
	"github.com/bigbear0079/jimeng-pool/internal/mailbox"
	"github.com/bigbear0079/jimeng-pool/internal/model"
	"github.com/bigbear0079/jimeng-pool/internal/proxy"
	"github.com/bigbear0079/jimeng-pool/internal/recorder"
	"github.com/bigbear0079/jimeng-pool/internal/slots"
)

// BatchResult aggregates one batch acquisition run. Results holds the
// successful acquisitions in completion order, which is unordered across
// parallel workers.
type BatchResult struct {
	Results []model.AcquisitionResult
	Success int
	Failed  int
}

// Orchestrator mints new account credentials by driving login-flow workers
// over a shared slot pool and proxy rotator. One orchestrator instance owns
// its pools; independent orchestrators do not share state.
type Orchestrator struct {
	Slots      *slots.Pool
	Proxies    *proxy.Rotator
	Mailbox    mailbox.Provider
	Gateway    credits.Gateway
	Store      *ledger.Store
	Recorder   recorder.Recorder
	NewSession browser.Factory

	LoginURL   func(region string) string
	Timeout    time.Duration // overall per-worker budget, from first attempt
	BatchDelay time.Duration // sequential inter-attempt delay
	AutoEmail  bool
	Headless   bool
}

// AcquireSession runs one full acquisition attempt. The overall timeout
// starts immediately and covers the slot wait. On any terminal state the
// slot is released and the ephemeral profile torn down; a credential is
// persisted to the ledger only on Success.
func (o *Orchestrator) AcquireSession(ctx context.Context, region, proxyAddr string) model.AcquisitionResult {
	return o.acquireWorker(ctx, 1, region, proxyAddr)
}

func (o *Orchestrator) acquireWorker(ctx context.Context, workerID int, region, proxyAddr string) model.AcquisitionResult {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	result := model.AcquisitionResult{Region: region, Outcome: model.OutcomeTimeout}
	accountID := 0
	defer func() {
		result.Elapsed = time.Since(start)
		o.record(&result, proxyAddr, accountID)
	}()

	if proxyAddr == "" && o.Proxies != nil {
		proxyAddr = o.Proxies.Next()
	}
	if proxyAddr != "" {
		log.Printf("[worker %d] using proxy %s", workerID, proxyAddr)
	}

	slot, err := o.Slots.Acquire(wctx)
	if err != nil {
		log.Printf("[worker %d] no slot before deadline: %v", workerID, err)
		return result
	}
	defer o.Slots.Release(slot)
	log.Printf("[worker %d] acquired slot %d", workerID, slot+1)

	profileDir := browser.NewProfileDir(workerID)
	session, err := o.NewSession(wctx, browser.Options{
		Proxy:      proxyAddr,
		Headless:   o.Headless,
		ProfileDir: profileDir,
		WindowX:    slots.Offset(slot),
		WindowW:    slots.WindowWidth,
		WindowH:    slots.WindowHeight,
	})
	if err != nil {
		log.Printf("[worker %d] start browser session: %v", workerID, err)
		result.Outcome = model.OutcomeAbort
		return result
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("[worker %d] close session: %v", workerID, err)
		}
		if err := browser.RemoveProfileDir(profileDir); err != nil {
			log.Printf("[worker %d] remove profile: %v", workerID, err)
		}
	}()

	flow := &Flow{
		Session:   session,
		Mailbox:   o.Mailbox,
		LoginURL:  o.LoginURL(region),
		Region:    region,
		AutoEmail: o.AutoEmail,
		WorkerID:  workerID,
	}
	result = flow.Run(wctx)

	if result.Outcome != model.OutcomeSuccess {
		return result
	}

	// Post-success verification is observability only; a credential that
	// fails to verify is still persisted.
	result.Verified = o.verify(ctx, result.Token, workerID)

	id, err := o.persist(result)
	if err != nil {
		log.Printf("[worker %d] persist credential: %v", workerID, err)
		return result
	}
	accountID = id
	log.Printf("[worker %d] credential stored as account %d", workerID, id)
	return result
}

func (o *Orchestrator) verify(ctx context.Context, token string, workerID int) bool {
	if o.Gateway == nil {
		return false
	}
	vctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	userID, ok := o.Gateway.WhoAmI(vctx, token)
	if ok {
		log.Printf("[worker %d] credential verified, user id %s", workerID, userID)
	} else {
		log.Printf("[worker %d] verification unavailable, keeping credential", workerID)
	}
	return ok
}

func (o *Orchestrator) persist(res model.AcquisitionResult) (int, error) {
	return o.Store.AppendAccount(model.AccountRecord{
		Email:      res.Email,
		Region:     res.Region,
		LastUpdate: time.Now().Format(time.RFC3339),
		Token:      model.TruncateToken(res.Token),
	})
}

func (o *Orchestrator) record(res *model.AcquisitionResult, proxyAddr string, accountID int) {
	if o.Recorder == nil {
		return
	}
	if err := o.Recorder.RecordAcquisition(&recorder.AcquisitionEvent{
		Region:     res.Region,
		Outcome:    string(res.Outcome),
		Email:      res.Email,
		Proxy:      proxyAddr,
		DurationMS: res.Elapsed.Milliseconds(),
		Verified:   res.Verified,
		AccountID:  accountID,
	}); err != nil {
		log.Printf("[ERROR] record acquisition: %v", err)
	}
}

// BatchSequential runs count attempts one at a time with a fixed delay plus
// a small random jitter between attempts.
func (o *Orchestrator) BatchSequential(ctx context.Context, count int, region string) BatchResult {
	var batch BatchResult
	log.Printf("[INFO] sequential batch: %d attempts, region %s", count, region)

	for i := 0; i < count; i++ {
		log.Printf("[INFO] attempt %d/%d", i+1, count)
		res := o.acquireWorker(ctx, i+1, region, "")
		if res.Outcome == model.OutcomeSuccess {
			batch.Success++
			batch.Results = append(batch.Results, res)
		} else {
			batch.Failed++
		}

		if i < count-1 {
			delay := o.BatchDelay + time.Duration(rand.Intn(2000))*time.Millisecond
			select {
			case <-ctx.Done():
				batch.Failed += count - 1 - i
				return batch
			case <-time.After(delay):
			}
		}
	}
	log.Printf("[INFO] sequential batch done: %d ok, %d failed", batch.Success, batch.Failed)
	return batch
}

// BatchParallel runs count attempts over a fixed-size pool of workers.
// Workers run fully independently; results are collected as they complete
// with no ordering guarantee. Worker width may exceed the slot capacity, in
// which case excess workers block on slot acquisition.
func (o *Orchestrator) BatchParallel(ctx context.Context, count, workers int, region string) BatchResult {
	if workers < 1 {
		workers = 1
	}
	log.Printf("[INFO] parallel batch: %d attempts, %d workers, region %s", count, workers, region)

	jobs := make(chan int)
	results := make(chan model.AcquisitionResult, count)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- o.acquireWorker(ctx, id, region, "")
			}
		}()
	}

	go func() {
		for i := 0; i < count; i++ {
			jobs <- i + 1
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var batch BatchResult
	for res := range results {
		if res.Outcome == model.OutcomeSuccess {
			batch.Success++
			batch.Results = append(batch.Results, res)
		} else {
			batch.Failed++
		}
	}
	log.Printf("[INFO] parallel batch done: %d ok, %d failed", batch.Success, batch.Failed)
	return batch
}
