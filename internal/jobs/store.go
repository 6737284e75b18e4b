package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
)

const (
	// SnapshotKey namespaces the persisted job snapshot.
	SnapshotKey = "jobs.snapshot"
	// SnapshotVersion tags the snapshot layout. Snapshots with any other version are discarded.
	SnapshotVersion = 1

	DefaultRetention = 7 * 24 * time.Hour
	defaultQueueSize = 64
)

// Outcome reports what a transition did.
type Outcome int

const (
	Applied Outcome = iota
	NoOp
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NoOp:
		return "no-op"
	case Unknown:
		return "unknown"
	default:
		return ""
	}
}

// Command asks the store to move a job to Target. ID may be a temp id or a server id.
type Command struct {
	ID     string
	Target models.State
	Source string // producer name, for logs
}

// ChangeKind classifies a [Change].
type ChangeKind int

const (
	Created ChangeKind = iota
	Bound
	StateChanged
	Removed
)

// Change is delivered to subscribers after a mutation took effect.
type Change struct {
	Kind     ChangeKind
	Job      models.Job
	Previous models.State
}

// Persister stores versioned snapshots by key.
type Persister interface {
	Save(ctx context.Context, key string, version int, data []byte) error
	// Load returns [shared.ErrSnapshotNotFound] when nothing is stored under key.
	Load(ctx context.Context, key string) (int, []byte, error)
}

// Options configures a [Store]. The zero value is an in-memory store with the default retention.
type Options struct {
	Persister Persister
	Retention time.Duration
	QueueSize int
	Logger    *log.Logger
	Now       func() time.Time
}

type subscription struct {
	id int
	fn func(Change)
}

type snapshot struct {
	Version int                  `json:"version"`
	SavedAt time.Time            `json:"saved_at"`
	Jobs    []models.Job         `json:"jobs"`
	Removed map[string]time.Time `json:"removed,omitempty"` // Removal time by temp id
}

// Store holds job records keyed by temp id, with server ids as aliases.
type Store struct {
	// writeMu serializes mutations together with their notification and persistence, so
	// subscribers observe changes in the order they happened.
	writeMu sync.Mutex

	mu        sync.RWMutex
	records   map[string]*models.Job
	aliases   map[string]string
	removed   map[string]time.Time
	listeners []subscription
	nextID    int

	inbox     chan Command
	persister Persister
	retention time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// NewStore creates an empty [Store].
func NewStore(opts Options) *Store {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		records:   make(map[string]*models.Job),
		aliases:   make(map[string]string),
		removed:   make(map[string]time.Time),
		inbox:     make(chan Command, opts.QueueSize),
		persister: opts.Persister,
		retention: opts.Retention,
		logger:    shared.WithLogger(opts.Logger, "component", "jobs"),
		now:       opts.Now,
	}
}

// CreatePending records a new PENDING job and returns its temp id.
func (s *Store) CreatePending(req models.JobRequest) string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	job := &models.Job{
		TempID:    shared.GenerateID(),
		State:     models.Pending,
		Title:     req.Title,
		Platform:  req.Platform,
		Payload:   req.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.Payload = job.Clone().Payload

	s.mu.Lock()
	s.records[job.TempID] = job
	created := job.Clone()
	s.mu.Unlock()

	s.commit(Change{Kind: Created, Job: created, Previous: models.Pending})
	return created.TempID
}

// BindServerID aliases jobID to the record created under tempID. Binding the same pair twice is a
// no-op; binding a different server id, or a server id another record already answers to, fails
// with [shared.ErrJobConflict].
func (s *Store) BindServerID(tempID, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", shared.ErrInvalidArgument)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	job, ok := s.records[tempID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownJob, tempID)
	}
	if !s.claimable(jobID, tempID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already identifies another job", shared.ErrJobConflict, jobID)
	}
	if job.JobID == jobID {
		s.mu.Unlock()
		return nil
	}
	if job.JobID != "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already has id %s", shared.ErrJobConflict, tempID, job.JobID)
	}

	job.JobID = jobID
	job.UpdatedAt = s.now()
	s.aliases[jobID] = tempID
	bound := job.Clone()
	s.mu.Unlock()

	s.commit(Change{Kind: Bound, Job: bound, Previous: bound.State})
	return nil
}

// Transition moves the job addressed by id to target when [models.State.CanTransition] allows it.
// Unknown ids, stale transitions and disallowed edges are absorbed, never returned as errors.
func (s *Store) Transition(id string, target models.State) Outcome {
	return s.Apply(Command{ID: id, Target: target})
}

// Apply executes cmd. See [Store.Transition].
func (s *Store) Apply(cmd Command) Outcome {
	if !cmd.Target.Valid() {
		s.logger.Warn("ignoring transition to invalid state", "id", cmd.ID, "target", int(cmd.Target))
		return NoOp
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	job := s.resolve(cmd.ID)
	if job == nil {
		s.mu.Unlock()
		s.logger.Debug("transition for unknown job", "id", cmd.ID, "target", cmd.Target, "source", cmd.Source)
		return Unknown
	}
	previous := job.State
	if !previous.CanTransition(cmd.Target) {
		s.mu.Unlock()
		if cmd.Target.Rank() > previous.Rank() {
			s.logger.Debug("ignoring disallowed transition", "id", cmd.ID, "from", previous, "to", cmd.Target, "source", cmd.Source)
		}
		return NoOp
	}

	job.State = cmd.Target
	job.UpdatedAt = s.now()
	changed := job.Clone()
	s.mu.Unlock()

	s.logger.Info("job transitioned", "id", changed.ID(), "from", previous, "to", changed.State, "source", cmd.Source)
	s.commit(Change{Kind: StateChanged, Job: changed, Previous: previous})
	return Applied
}

// Remove deletes the job addressed by id. It reports whether a record existed.
func (s *Store) Remove(id string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	job := s.resolve(id)
	if job == nil {
		s.mu.Unlock()
		return false
	}
	s.drop(job)
	s.removed[job.TempID] = s.now()
	removed := job.Clone()
	s.mu.Unlock()

	s.commit(Change{Kind: Removed, Job: removed, Previous: removed.State})
	return true
}

// Get returns a copy of the job addressed by a temp id or server id.
func (s *Store) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if job := s.resolve(id); job != nil {
		return job.Clone(), true
	}
	return models.Job{}, false
}

// List returns copies of all jobs, newest first.
func (s *Store) List() []models.Job {
	return s.filter(func(models.Job) bool { return true })
}

// ByState returns jobs currently in state, newest first.
func (s *Store) ByState(state models.State) []models.Job {
	return s.filter(func(j models.Job) bool { return j.State == state })
}

// Folders returns all jobs grouped by creation date.
func (s *Store) Folders() []models.Folder {
	return models.GroupByDate(s.List())
}

// Subscribe registers fn for changes and returns a function that removes it. Listeners run
// synchronously after the mutation and must not mutate the store.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Dispatch queues cmd for [Store.Run]. It blocks while the queue is full.
func (s *Store) Dispatch(ctx context.Context, cmd Command) error {
	select {
	case s.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued commands until ctx is cancelled. Commands still queued at that point are
// applied before Run returns.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case cmd := <-s.inbox:
			s.Apply(cmd)
		case <-ctx.Done():
			for {
				select {
				case cmd := <-s.inbox:
					s.Apply(cmd)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

// SweepStale fails PENDING and PROCESSING jobs created more than timeout ago and returns how many
// were failed.
func (s *Store) SweepStale(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-timeout)

	stale := s.filter(func(j models.Job) bool {
		return (j.State == models.Pending || j.State == models.Processing) && j.CreatedAt.Before(cutoff)
	})

	failed := 0
	for _, j := range stale {
		if s.Apply(Command{ID: j.TempID, Target: models.Failed, Source: "timeout"}) == Applied {
			failed++
		}
	}
	return failed
}

// Restore replaces the in-memory records with the persisted snapshot. A missing snapshot or one
// with another version leaves the store empty; jobs older than the retention window are dropped.
func (s *Store) Restore(ctx context.Context) error {
	snap, err := s.load(ctx)
	if err != nil || snap == nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.records = make(map[string]*models.Job, len(snap.Jobs))
	s.aliases = make(map[string]string)
	s.removed = make(map[string]time.Time)
	s.mu.Unlock()

	changes, expired := s.absorb(snap)
	s.logger.Info("restored jobs", "count", len(changes), "expired", expired)
	return nil
}

// Reload merges the persisted snapshot into memory, picking up jobs other processes wrote.
// Subscribers see every resulting change.
func (s *Store) Reload(ctx context.Context) error {
	snap, err := s.load(ctx)
	if err != nil || snap == nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	changes, _ := s.absorb(snap)
	s.notify(changes...)
	return nil
}

// load reads the persisted snapshot. It returns nil when nothing usable is stored.
func (s *Store) load(ctx context.Context) (*snapshot, error) {
	if s.persister == nil {
		return nil, nil
	}

	version, data, err := s.persister.Load(ctx, SnapshotKey)
	if errors.Is(err, shared.ErrSnapshotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job snapshot: %w", err)
	}

	if version != SnapshotVersion {
		s.logger.Warn("discarding job snapshot", "version", version, "want", SnapshotVersion)
		return nil, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("discarding unreadable job snapshot", "error", err)
		return nil, nil
	}
	if snap.Version != SnapshotVersion {
		s.logger.Warn("discarding job snapshot", "version", snap.Version, "want", SnapshotVersion)
		return nil, nil
	}
	return &snap, nil
}

// absorb joins snap into memory: states only move up in rank, removals win over records, and
// jobs created before the retention window are not adopted. Callers hold writeMu.
func (s *Store) absorb(snap *snapshot) (changes []Change, expired int) {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	for tempID, at := range snap.Removed {
		if at.Before(cutoff) {
			continue
		}
		if _, ok := s.removed[tempID]; !ok {
			s.removed[tempID] = at
		}
		if job, ok := s.records[tempID]; ok {
			s.drop(job)
			changes = append(changes, Change{Kind: Removed, Job: job.Clone(), Previous: job.State})
		}
	}

	for _, persisted := range snap.Jobs {
		if persisted.TempID == "" {
			continue
		}
		if _, gone := s.removed[persisted.TempID]; gone {
			continue
		}

		local, ok := s.records[persisted.TempID]
		if !ok {
			if persisted.CreatedAt.Before(cutoff) {
				expired++
				continue
			}
			job := persisted.Clone()
			if job.JobID != "" && !s.claimable(job.JobID, job.TempID) {
				s.logger.Warn("skipping persisted job with a conflicting id", "temp_id", job.TempID, "job_id", job.JobID)
				continue
			}
			s.records[job.TempID] = &job
			if job.JobID != "" {
				s.aliases[job.JobID] = job.TempID
			}
			changes = append(changes, Change{Kind: Created, Job: job.Clone(), Previous: job.State})
			continue
		}

		if local.JobID == "" && persisted.JobID != "" && s.claimable(persisted.JobID, local.TempID) {
			local.JobID = persisted.JobID
			s.aliases[local.JobID] = local.TempID
			changes = append(changes, Change{Kind: Bound, Job: local.Clone(), Previous: local.State})
		}
		if persisted.State.Rank() > local.State.Rank() {
			previous := local.State
			local.State = persisted.State
			if persisted.UpdatedAt.After(local.UpdatedAt) {
				local.UpdatedAt = persisted.UpdatedAt
			}
			changes = append(changes, Change{Kind: StateChanged, Job: local.Clone(), Previous: previous})
		}
	}
	return changes, expired
}

// claimable reports whether jobID is free to alias tempID. Callers hold mu.
func (s *Store) claimable(jobID, tempID string) bool {
	if owner, taken := s.aliases[jobID]; taken && owner != tempID {
		return false
	}
	if _, clash := s.records[jobID]; clash && jobID != tempID {
		return false
	}
	return true
}

// drop deletes job and its alias. Callers hold mu.
func (s *Store) drop(job *models.Job) {
	delete(s.records, job.TempID)
	if job.JobID != "" {
		delete(s.aliases, job.JobID)
	}
}

// resolve finds a record by temp id, then by server id. Callers hold mu.
func (s *Store) resolve(id string) *models.Job {
	if job, ok := s.records[id]; ok {
		return job
	}
	if tempID, ok := s.aliases[id]; ok {
		return s.records[tempID]
	}
	return nil
}

func (s *Store) filter(keep func(models.Job) bool) []models.Job {
	s.mu.RLock()
	jobs := make([]models.Job, 0, len(s.records))
	for _, j := range s.records {
		if keep(*j) {
			jobs = append(jobs, j.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].TempID < jobs[b].TempID
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs
}

// commit notifies subscribers and persists. Callers hold writeMu.
func (s *Store) commit(change Change) {
	s.notify(change)
	s.persist()
}

func (s *Store) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	s.mu.RLock()
	listeners := make([]subscription, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, c := range changes {
		for _, l := range listeners {
			l.fn(c)
		}
	}
}

// persist merges the stored snapshot into memory and writes the result back, so jobs saved by
// other processes survive. Callers hold writeMu.
func (s *Store) persist() {
	if s.persister == nil {
		return
	}

	ctx := context.Background()
	stored, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("saving without merging the stored snapshot", "error", err)
	}
	if stored != nil {
		changes, _ := s.absorb(stored)
		s.notify(changes...)
	}

	now := s.now()
	cutoff := now.Add(-s.retention)
	removed := make(map[string]time.Time)
	s.mu.Lock()
	for id, at := range s.removed {
		if at.Before(cutoff) {
			delete(s.removed, id)
			continue
		}
		removed[id] = at
	}
	s.mu.Unlock()

	snap := snapshot{Version: SnapshotVersion, SavedAt: now, Jobs: s.List(), Removed: removed}
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("failed to encode job snapshot", "error", err)
		return
	}
	if err := s.persister.Save(ctx, SnapshotKey, SnapshotVersion, data); err != nil {
		s.logger.Error("failed to save job snapshot", "error", err)
	}
}
