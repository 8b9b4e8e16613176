package scheduler

import (
	"runtime"
	"sync"
	"time"
)

// defaultFolderMemoryCostMB is used when a folder carries no explicit
// EstimatedMemoryCostMB (spec.md §4.1 admission policy).
const defaultFolderMemoryCostMB = 256

// highWaterMarkFraction is the fraction of memoryLimitMB above which the
// resource manager starts emitting Throttled events.
const highWaterMarkFraction = 0.85

// waiter is one queued admission request.
type waiter struct {
	costMB int
	grant  chan struct{}
}

// resourceManager owns the global admission counters (active jobs, memory
// estimate, throttle factor) under a single lock, grounded on the teacher's
// `workerSem chan struct{}` pattern in `pkg/watcher/service.go`, generalized
// from a plain concurrency gate to a memory-cost-weighted one with a bounded
// wait queue (spec.md §4.1: "refuses admission ... and queues it. If the
// queue is full, the submission fails with QueueFull").
type resourceManager struct {
	mu sync.Mutex

	maxConcurrentFolders int
	memoryLimitMB        int
	queueSize            int

	activeFolders int
	usedMemoryMB  int
	waiters       []*waiter

	throttled bool
}

func newResourceManager(maxConcurrentFolders, memoryLimitMB, queueSize int) *resourceManager {
	if maxConcurrentFolders <= 0 {
		maxConcurrentFolders = 3
	}
	if memoryLimitMB <= 0 {
		memoryLimitMB = 2048
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	return &resourceManager{
		maxConcurrentFolders: maxConcurrentFolders,
		memoryLimitMB:        memoryLimitMB,
		queueSize:            queueSize,
	}
}

// tryAdmitLocked reports whether one more folder job of the given cost fits
// under both the concurrency and memory ceilings. Caller holds rm.mu. While
// throttled, admission of additional folders pauses (spec.md §4.1: "the
// manager emits a Throttled event that ... pipelines consume to ... pause
// admission of new folders") unless nothing is active yet, so a lone job
// can still make progress and eventually clear the throttle.
func (rm *resourceManager) tryAdmitLocked(costMB int) bool {
	if rm.throttled && rm.activeFolders > 0 {
		return false
	}
	return rm.activeFolders < rm.maxConcurrentFolders && rm.usedMemoryMB+costMB <= rm.memoryLimitMB
}

// acquire blocks until the folder job is admitted, the queue is full
// (ErrQueueFull), or cancel fires. A zero costMB folder still counts
// against the concurrency ceiling.
func (rm *resourceManager) acquire(costMB int, cancel <-chan struct{}) error {
	if costMB <= 0 {
		costMB = defaultFolderMemoryCostMB
	}

	rm.mu.Lock()
	if rm.tryAdmitLocked(costMB) {
		rm.activeFolders++
		rm.usedMemoryMB += costMB
		rm.mu.Unlock()
		return nil
	}
	if len(rm.waiters) >= rm.queueSize {
		rm.mu.Unlock()
		return errQueueFull
	}
	w := &waiter{costMB: costMB, grant: make(chan struct{})}
	rm.waiters = append(rm.waiters, w)
	rm.mu.Unlock()

	select {
	case <-w.grant:
		return nil
	case <-cancel:
		rm.withdraw(w)
		return errCancelled
	}
}

// withdraw removes a waiter that gave up before being admitted.
func (rm *resourceManager) withdraw(w *waiter) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for i, other := range rm.waiters {
		if other == w {
			rm.waiters = append(rm.waiters[:i], rm.waiters[i+1:]...)
			return
		}
	}
}

// release returns costMB and one concurrency slot, then admits as many
// queued waiters as now fit, in FIFO order.
func (rm *resourceManager) release(costMB int) {
	if costMB <= 0 {
		costMB = defaultFolderMemoryCostMB
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.activeFolders--
	rm.usedMemoryMB -= costMB
	if rm.usedMemoryMB < 0 {
		rm.usedMemoryMB = 0
	}

	for len(rm.waiters) > 0 {
		next := rm.waiters[0]
		if !rm.tryAdmitLocked(next.costMB) {
			break
		}
		rm.activeFolders++
		rm.usedMemoryMB += next.costMB
		rm.waiters = rm.waiters[1:]
		close(next.grant)
	}
}

// sampleMemoryMB estimates current process memory use, grounded on zrok's
// `getAvailableMemoryMB` (runtime.MemStats as the only portable signal
// without a cgo/system dependency).
func sampleMemoryMB() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int(m.Sys / 1024 / 1024)
}

// throttleObserver periodically samples memory use and flips the manager's
// throttled flag when it crosses the configured high-water mark, until
// stop is closed. Only memory is sampled; CPU load is not measured and
// never triggers a throttle.
func (rm *resourceManager) throttleObserver(interval time.Duration, stop <-chan struct{}, onThrottle func(bool)) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sampled := sampleMemoryMB()
			highWater := int(float64(rm.memoryLimitMB) * highWaterMarkFraction)
			rm.mu.Lock()
			was := rm.throttled
			rm.throttled = sampled >= highWater || rm.usedMemoryMB >= highWater
			now := rm.throttled
			rm.mu.Unlock()
			if now != was && onThrottle != nil {
				onThrottle(now)
			}
		case <-stop:
			return
		}
	}
}

// isThrottled reports the manager's last-sampled throttle state.
func (rm *resourceManager) isThrottled() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.throttled
}
