// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/fundwatch/event"
	"github.com/blinklabs-io/fundwatch/ledger"
)

var ErrUnknownCampaign = errors.New("unknown campaign")

type StoreConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// Store is the process-wide view of campaigns, split into active and closed
// collections. A session goroutine is the only writer. Readers get copies.
type Store struct {
	config      StoreConfig
	logger      *slog.Logger
	metrics     *storeMetrics
	mu          sync.RWMutex
	active      map[uint64]ledger.Campaign
	closed      map[uint64]ledger.Campaign
	totalCount  uint64
	closedCount uint64
	loaded      bool
	loadErr     error
	detailID    uint64
	detailOpen  bool
}

// Snapshot is a full bootstrap result committed in one step
type Snapshot struct {
	Active      []ledger.Campaign
	Closed      []ledger.Campaign
	TotalCount  uint64
	ClosedCount uint64
}

// Status summarizes the Store for presentation
type Status struct {
	Loaded      bool
	LoadError   error
	TotalCount  uint64
	ClosedCount uint64
	ActiveCount uint64
	Active      int
	Closed      int
	DetailID    uint64
	DetailOpen  bool
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Store{
		config: cfg,
		logger: cfg.Logger.With("component", "state"),
		active: make(map[uint64]ledger.Campaign),
		closed: make(map[uint64]ledger.Campaign),
	}
	if cfg.PromRegistry != nil {
		s.metrics = newStoreMetrics(cfg.PromRegistry)
	}
	return s
}

// Commit replaces the whole view with a bootstrap snapshot and clears any
// load error
func (s *Store) Commit(snap Snapshot) {
	active := make(map[uint64]ledger.Campaign, len(snap.Active))
	for _, c := range snap.Active {
		active[c.ID] = c.Clone()
	}
	closed := make(map[uint64]ledger.Campaign, len(snap.Closed))
	for _, c := range snap.Closed {
		closed[c.ID] = c.Clone()
	}
	s.mu.Lock()
	s.active = active
	s.closed = closed
	s.totalCount = snap.TotalCount
	s.closedCount = snap.ClosedCount
	s.loaded = true
	s.loadErr = nil
	if s.detailOpen {
		if _, ok := s.lookupLocked(s.detailID); !ok {
			s.detailOpen = false
		}
	}
	s.updateMetricsLocked()
	s.mu.Unlock()
	s.logger.Debug(
		"committed snapshot",
		"active", len(snap.Active),
		"closed", len(snap.Closed),
		"total", snap.TotalCount,
	)
	s.publish(ChangeCommitted, 0)
}

// Reset empties the Store ahead of a full reload
func (s *Store) Reset() {
	s.mu.Lock()
	s.active = make(map[uint64]ledger.Campaign)
	s.closed = make(map[uint64]ledger.Campaign)
	s.totalCount = 0
	s.closedCount = 0
	s.loaded = false
	s.loadErr = nil
	s.detailOpen = false
	s.updateMetricsLocked()
	s.mu.Unlock()
	s.publish(ChangeReset, 0)
}

// Has reports whether id is present in either collection
func (s *Store) Has(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lookupLocked(id)
	return ok
}

// AddCreated inserts a newly created campaign into the collection matching
// its closed flag. It returns false when the id is already present.
func (s *Store) AddCreated(c ledger.Campaign) bool {
	s.mu.Lock()
	if _, ok := s.lookupLocked(c.ID); ok {
		s.mu.Unlock()
		return false
	}
	if c.Closed {
		s.closed[c.ID] = c.Clone()
	} else {
		s.active[c.ID] = c.Clone()
	}
	s.updateMetricsLocked()
	s.mu.Unlock()
	s.publish(ChangeCreated, c.ID)
	return true
}

// ApplyFunded replaces an active entry with a re-fetched record. Funds never
// go down: a record older than the stored one keeps the stored amount.
// Closed entries are frozen and left alone.
func (s *Store) ApplyFunded(c ledger.Campaign) bool {
	s.mu.Lock()
	if _, ok := s.closed[c.ID]; ok {
		s.mu.Unlock()
		return false
	}
	next := c.Clone()
	next.Closed = false
	if existing, ok := s.active[c.ID]; ok {
		next.Stopped = existing.Stopped || c.Stopped
		if existing.FundsRaised != nil &&
			(next.FundsRaised == nil ||
				existing.FundsRaised.Cmp(next.FundsRaised) > 0) {
			next.FundsRaised = existing.Clone().FundsRaised
			next.ContributorCount = max(
				next.ContributorCount,
				existing.ContributorCount,
			)
		}
	}
	s.active[c.ID] = next
	s.updateMetricsLocked()
	s.mu.Unlock()
	s.publish(ChangeFunded, c.ID)
	return true
}

// MoveToClosed moves a campaign out of the active collection. The record's
// funds are frozen at the re-fetched value. Stopped is never cleared. An
// open detail view for the id is closed.
func (s *Store) MoveToClosed(c ledger.Campaign, stopped bool) {
	s.mu.Lock()
	next := c.Clone()
	next.Closed = true
	if existing, ok := s.closed[c.ID]; ok {
		// already closed, only the stop flag may advance
		next = existing
		next.Stopped = existing.Stopped || stopped
	} else {
		if existing, ok := s.active[c.ID]; ok {
			stopped = stopped || existing.Stopped
		}
		next.Stopped = stopped
		delete(s.active, c.ID)
	}
	s.closed[c.ID] = next
	if s.detailOpen && s.detailID == c.ID {
		s.detailOpen = false
	}
	s.updateMetricsLocked()
	s.mu.Unlock()
	s.publish(ChangeClosed, c.ID)
}

// ApplyRefunded updates refund bookkeeping on a closed entry. An entry that
// is missing or still active is upserted into the closed collection as
// stopped, since refunds only follow a stop. Funds never increase.
func (s *Store) ApplyRefunded(c ledger.Campaign) {
	s.mu.Lock()
	next := c.Clone()
	next.Closed = true
	next.Stopped = true
	if existing, ok := s.closed[c.ID]; ok {
		if existing.FundsRaised != nil &&
			(next.FundsRaised == nil ||
				next.FundsRaised.Cmp(existing.FundsRaised) > 0) {
			next.FundsRaised = existing.Clone().FundsRaised
		}
	} else {
		if existing, ok := s.active[c.ID]; ok &&
			existing.FundsRaised != nil &&
			(next.FundsRaised == nil ||
				next.FundsRaised.Cmp(existing.FundsRaised) > 0) {
			next.FundsRaised = existing.Clone().FundsRaised
		}
		delete(s.active, c.ID)
	}
	s.closed[c.ID] = next
	s.updateMetricsLocked()
	s.mu.Unlock()
	s.publish(ChangeRefunded, c.ID)
}

// SetCounts records the ledger's aggregate counts
func (s *Store) SetCounts(total, closed uint64) {
	s.mu.Lock()
	s.totalCount = total
	s.closedCount = closed
	s.updateMetricsLocked()
	s.mu.Unlock()
}

// SetLoadError records a visible, dismissible failure. The collections are
// not touched.
func (s *Store) SetLoadError(err error) {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
	s.logger.Warn("load error", "error", err)
	if s.metrics != nil {
		s.metrics.loadErrors.Inc()
	}
	s.publish(ChangeStatus, 0)
}

// DismissError clears the load error
func (s *Store) DismissError() {
	s.mu.Lock()
	s.loadErr = nil
	s.mu.Unlock()
	s.publish(ChangeStatus, 0)
}

// OpenDetail selects a campaign for the detail view
func (s *Store) OpenDetail(id uint64) error {
	s.mu.Lock()
	if _, ok := s.lookupLocked(id); !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownCampaign, id)
	}
	s.detailID = id
	s.detailOpen = true
	s.mu.Unlock()
	s.publish(ChangeDetail, id)
	return nil
}

func (s *Store) CloseDetail() {
	s.mu.Lock()
	s.detailOpen = false
	s.mu.Unlock()
	s.publish(ChangeDetail, 0)
}

// Detail returns the campaign in the detail view, if one is open
func (s *Store) Detail() (ledger.Campaign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.detailOpen {
		return ledger.Campaign{}, false
	}
	c, ok := s.lookupLocked(s.detailID)
	return c.Clone(), ok
}

// Get returns a copy of one campaign from either collection
func (s *Store) Get(id uint64) (ledger.Campaign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.lookupLocked(id)
	return c.Clone(), ok
}

// Active returns the active collection ordered by id
func (s *Store) Active() []ledger.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopy(s.active)
}

// Closed returns the closed collection ordered by id
func (s *Store) Closed() []ledger.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopy(s.closed)
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := Status{
		Loaded:      s.loaded,
		LoadError:   s.loadErr,
		TotalCount:  s.totalCount,
		ClosedCount: s.closedCount,
		Active:      len(s.active),
		Closed:      len(s.closed),
		DetailID:    s.detailID,
		DetailOpen:  s.detailOpen,
	}
	if s.totalCount >= s.closedCount {
		ret.ActiveCount = s.totalCount - s.closedCount
	}
	return ret
}

// CheckConsistency verifies the partition and count invariants against the
// recorded ledger counts
func (s *Store) CheckConsistency() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var errs []error
	for id, c := range s.active {
		if _, ok := s.closed[id]; ok {
			errs = append(errs, fmt.Errorf("campaign %d in both collections", id))
		}
		if c.Closed {
			errs = append(errs, fmt.Errorf("closed campaign %d in active collection", id))
		}
	}
	for id, c := range s.closed {
		if !c.Closed {
			errs = append(errs, fmt.Errorf("open campaign %d in closed collection", id))
		}
	}
	if got := uint64(len(s.active) + len(s.closed)); got != s.totalCount {
		errs = append(errs, fmt.Errorf(
			"collections hold %d campaigns, ledger total is %d",
			got,
			s.totalCount,
		))
	}
	return errors.Join(errs...)
}

func (s *Store) lookupLocked(id uint64) (ledger.Campaign, bool) {
	if c, ok := s.active[id]; ok {
		return c, true
	}
	c, ok := s.closed[id]
	return c, ok
}

func (s *Store) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.active.Set(float64(len(s.active)))
	s.metrics.closed.Set(float64(len(s.closed)))
	s.metrics.ledgerTotal.Set(float64(s.totalCount))
}

func (s *Store) publish(change ChangeKind, id uint64) {
	if s.config.EventBus == nil {
		return
	}
	s.config.EventBus.Publish(
		ChangedEventType,
		event.NewEvent(
			ChangedEventType,
			ChangedEvent{Change: change, CampaignID: id},
		),
	)
}

func sortedCopy(m map[uint64]ledger.Campaign) []ledger.Campaign {
	ids := slices.Sorted(maps.Keys(m))
	ret := make([]ledger.Campaign, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, m[id].Clone())
	}
	return ret
}
