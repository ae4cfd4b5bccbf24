// Package coordinator owns the latest snapshot produced by the poll
// cycle: it refreshes it through the API client, keeps it behind a
// read-mostly guarded reference, and notifies subscribers on every
// successful refresh.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/qustodio-bridge/internal/metrics"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/models"
)

// ErrRefreshInFlight is returned when Refresh is called while a
// previous cycle is still running. Polls must be serialized: the cron
// chain already skips overlapping runs, this enforces the invariant for
// any other caller.
var ErrRefreshInFlight = errors.New("a refresh cycle is already in flight")

// Fetcher produces one snapshot per poll cycle.
type Fetcher interface {
	GetData(ctx context.Context) (map[int64]models.ProfileSnapshot, error)
}

// Coordinator periodically refreshes profile snapshots and serves them
// to readers.
type Coordinator struct {
	fetcher      Fetcher
	metrics      *metrics.Metrics
	logger       *logrus.Logger
	cycleTimeout time.Duration

	inFlight atomic.Bool

	mu          sync.RWMutex
	data        map[int64]models.ProfileSnapshot
	lastOK      bool
	lastErr     error
	lastSuccess time.Time

	subMu       sync.Mutex
	subscribers []chan struct{}
}

// New creates a coordinator. cycleTimeout bounds one whole poll cycle.
func New(fetcher Fetcher, m *metrics.Metrics, logger *logrus.Logger, cycleTimeout time.Duration) *Coordinator {
	return &Coordinator{
		fetcher:      fetcher,
		metrics:      m,
		logger:       logger,
		cycleTimeout: cycleTimeout,
		data:         make(map[int64]models.ProfileSnapshot),
	}
}

// Refresh runs one poll cycle. On success the stored snapshot is
// replaced and subscribers are notified; on failure the previous
// snapshot is kept but readers see the refresh as failed until the next
// successful cycle. An empty snapshot with no error means the account
// has no profiles and counts as success.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	defer c.inFlight.Store(false)

	log := c.logger.WithField("cycle_id", uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	defer cancel()

	start := time.Now()
	data, err := c.fetcher.GetData(ctx)
	duration := time.Since(start)

	if err != nil {
		c.metrics.ObservePoll("failure", duration)

		c.mu.Lock()
		c.lastOK = false
		c.lastErr = err
		c.mu.Unlock()

		log.WithError(err).Error("Refresh failed")
		return err
	}

	c.metrics.ObservePoll("success", duration)
	c.metrics.RecordSnapshot(data)

	c.mu.Lock()
	c.data = data
	c.lastOK = true
	c.lastErr = nil
	c.lastSuccess = time.Now()
	c.mu.Unlock()

	log.WithFields(logrus.Fields{
		"profiles": len(data),
		"duration": duration.String(),
	}).Info("Refresh succeeded")

	c.notify()
	return nil
}

// Snapshot returns a copy of the latest snapshot together with whether
// the last refresh succeeded and when the last successful one finished.
func (c *Coordinator) Snapshot() (map[int64]models.ProfileSnapshot, bool, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int64]models.ProfileSnapshot, len(c.data))
	for id, snapshot := range c.data {
		out[id] = snapshot
	}
	return out, c.lastOK, c.lastSuccess
}

// Profile returns the snapshot for one profile. The second return is
// the availability rule: the last refresh succeeded and the profile was
// present in it.
func (c *Coordinator) Profile(id int64) (models.ProfileSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, present := c.data[id]
	return snapshot, c.lastOK && present
}

// Healthy reports whether the last refresh succeeded.
func (c *Coordinator) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastOK
}

// LastError returns the error of the last failed refresh, or nil.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Subscribe returns a channel that receives a tick after every
// successful refresh. The channel has a one-element buffer; a slow
// subscriber coalesces ticks instead of blocking the poll cycle.
func (c *Coordinator) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)

	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()

	return ch
}

func (c *Coordinator) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
