package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueKey is the record key of the pending submissions.
const DefaultQueueKey = "upload_pending"

// QueueOptions configures a Queue.
type QueueOptions struct {
	// Key is the record key. Dead-lettered entries use Key + "_dead".
	// Default: DefaultQueueKey.
	Key string
	// MaxConflictRetries bounds how often a mutation is re-applied after a
	// concurrent writer changed the record. Default: 3.
	MaxConflictRetries int
	// NewID overrides the id generator. Default: UUIDv7.
	NewID func() string
	// Now overrides the clock.
	Now func() time.Time
}

func (o *QueueOptions) defaults() {
	if o.Key == "" {
		o.Key = DefaultQueueKey
	}
	if o.MaxConflictRetries <= 0 {
		o.MaxConflictRetries = 3
	}
	if o.NewID == nil {
		o.NewID = newSnapshotID
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// journal is one persisted record: the full list of entries and the version
// it was read at.
type journal struct {
	key     string
	entries []Snapshot
	version int64
}

// Queue is the durable list of submissions that have not been delivered yet.
// Every mutation rewrites the whole record. Storage failures are logged and
// never returned: the in-memory state stays authoritative until the next
// successful write.
type Queue struct {
	store RecordStore
	opts  QueueOptions

	mu   sync.Mutex
	live journal
	dead journal
}

// NewQueue creates a queue over store and loads its current content.
func NewQueue(ctx context.Context, store RecordStore, opts QueueOptions) *Queue {
	opts.defaults()
	q := &Queue{
		store: store,
		opts:  opts,
		live:  journal{key: opts.Key},
		dead:  journal{key: opts.Key + "_dead"},
	}
	q.Load(ctx)
	return q
}

// Load replaces the in-memory queue with the persisted one. A missing or
// unreadable record yields an empty queue.
func (q *Queue) Load(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reload(ctx, &q.live)
	q.reload(ctx, &q.dead)
	setPending(len(q.live.entries))
}

func (q *Queue) reload(ctx context.Context, j *journal) {
	j.entries = nil
	rec, err := q.store.Load(ctx, j.key)
	if errors.Is(err, ErrRecordNotFound) {
		j.version = 0
		return
	}
	if err != nil {
		j.version = 0
		q.logStorageError(&StorageError{Op: "load", Key: j.key, Err: err})
		return
	}

	// Keep the version even when the content is corrupt so the next save
	// replaces it instead of conflicting forever.
	j.version = rec.Version
	if len(rec.Data) == 0 {
		return
	}
	var entries []Snapshot
	if err := json.Unmarshal(rec.Data, &entries); err != nil {
		q.logStorageError(&StorageError{Op: "decode", Key: j.key, Err: err})
		return
	}
	j.entries = entries
}

// Add stores a new submission and returns it with its creation time set.
// The snapshot keeps the id given at capture unless it is empty or already
// queued, in which case a fresh one is drawn. Status defaults to pending;
// sent snapshots are rejected.
func (q *Queue) Add(ctx context.Context, s Snapshot) (Snapshot, error) {
	if s.Status == StatusSent {
		return Snapshot{}, fmt.Errorf("add %s snapshot: sent submissions are not queued", s.Status)
	}
	if len(s.Media.Data) == 0 {
		return Snapshot{}, fmt.Errorf("add snapshot: %w", ErrNoMedia)
	}
	if s.Status == "" {
		s.Status = StatusPending
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	s = cloneSnapshot(s)
	if s.ID == "" || q.known(s.ID) {
		s.ID = q.uniqueID()
	}
	s.CreatedAt = q.opts.Now().UTC()

	err := q.mutate(ctx, &q.live, func(entries []Snapshot) ([]Snapshot, error) {
		if indexOf(entries, s.ID) >= 0 {
			return entries, nil
		}
		return append(entries, s), nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	slog.Info("queue: submission added", "id", s.ID, "status", s.Status, "file", s.Media.Name)
	return cloneSnapshot(s), nil
}

// Remove drops an entry and persists the remaining ones.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.mutate(ctx, &q.live, func(entries []Snapshot) ([]Snapshot, error) {
		i := indexOf(entries, id)
		if i < 0 {
			return nil, fmt.Errorf("remove %s: %w", id, ErrNotFound)
		}
		return append(entries[:i], entries[i+1:]...), nil
	})
	if err != nil {
		return err
	}

	slog.Info("queue: submission removed", "id", id)
	return nil
}

// RecordAttempt notes a failed redelivery. The status is left unchanged.
func (q *Queue) RecordAttempt(ctx context.Context, id string, cause error) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var updated Snapshot
	err := q.mutate(ctx, &q.live, func(entries []Snapshot) ([]Snapshot, error) {
		i := indexOf(entries, id)
		if i < 0 {
			return nil, fmt.Errorf("record attempt %s: %w", id, ErrNotFound)
		}
		entries[i].Attempts++
		if cause != nil {
			entries[i].LastError = cause.Error()
		}
		updated = entries[i]
		return entries, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return cloneSnapshot(updated), nil
}

// Bury moves an entry out of the queue into the dead-letter record.
func (q *Queue) Bury(ctx context.Context, id string) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := indexOf(q.live.entries, id)
	if i < 0 {
		return Snapshot{}, fmt.Errorf("bury %s: %w", id, ErrNotFound)
	}
	entry := cloneSnapshot(q.live.entries[i])

	err := q.mutate(ctx, &q.dead, func(entries []Snapshot) ([]Snapshot, error) {
		if indexOf(entries, id) >= 0 {
			return entries, nil
		}
		return append(entries, entry), nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	err = q.mutate(ctx, &q.live, func(entries []Snapshot) ([]Snapshot, error) {
		if i := indexOf(entries, id); i >= 0 {
			return append(entries[:i], entries[i+1:]...), nil
		}
		return entries, nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	slog.Warn("queue: submission dead-lettered", "id", id, "attempts", entry.Attempts, "last_error", entry.LastError)
	return entry, nil
}

// Get returns a copy of one entry.
func (q *Queue) Get(id string) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := indexOf(q.live.entries, id)
	if i < 0 {
		return Snapshot{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return cloneSnapshot(q.live.entries[i]), nil
}

// List returns copies of the queued entries in insertion order. An empty
// status returns every entry.
func (q *Queue) List(status Status) []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return filterEntries(q.live.entries, status)
}

// DeadLetters returns copies of the dead-lettered entries.
func (q *Queue) DeadLetters() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return filterEntries(q.dead.entries, "")
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live.entries)
}

// QueueStats summarises the queue.
type QueueStats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	Dead     int            `json:"dead"`
	Oldest   *time.Time     `json:"oldest,omitempty"`
}

// Stats returns counts by status.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := QueueStats{
		Total:    len(q.live.entries),
		ByStatus: make(map[Status]int),
		Dead:     len(q.dead.entries),
	}
	for _, e := range q.live.entries {
		st.ByStatus[e.Status]++
		if st.Oldest == nil || e.CreatedAt.Before(*st.Oldest) {
			t := e.CreatedAt
			st.Oldest = &t
		}
	}
	return st
}

// mutate applies op to a copy of the journal, persists the result and
// installs it. On a version conflict the journal is reloaded and op applied
// again. Other storage failures keep the new state in memory only.
// Callers hold q.mu.
func (q *Queue) mutate(ctx context.Context, j *journal, op func([]Snapshot) ([]Snapshot, error)) error {
	next, err := op(cloneEntries(j.entries))
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		if next == nil {
			next = []Snapshot{}
		}
		data, err := json.Marshal(next)
		if err != nil {
			j.entries = next
			q.logStorageError(&StorageError{Op: "encode", Key: j.key, Err: err})
			break
		}

		version, err := q.store.Save(ctx, j.key, data, j.version)
		if err == nil {
			j.entries = next
			j.version = version
			break
		}

		if errors.Is(err, ErrVersionConflict) && attempt < q.opts.MaxConflictRetries {
			slog.Debug("queue: concurrent write detected, reapplying", "key", j.key, "attempt", attempt+1)
			q.reload(ctx, j)
			next, err = op(cloneEntries(j.entries))
			if err != nil {
				return err
			}
			continue
		}

		j.entries = next
		q.logStorageError(&StorageError{Op: "save", Key: j.key, Err: err})
		break
	}

	if j == &q.live {
		setPending(len(j.entries))
	}
	return nil
}

func (q *Queue) uniqueID() string {
	for {
		if id := q.opts.NewID(); !q.known(id) {
			return id
		}
	}
}

func (q *Queue) known(id string) bool {
	return indexOf(q.live.entries, id) >= 0 || indexOf(q.dead.entries, id) >= 0
}

func newSnapshotID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (q *Queue) logStorageError(err *StorageError) {
	incStorageError(err.Op)
	slog.Error("queue: storage failure, continuing with in-memory state",
		"op", err.Op,
		"key", err.Key,
		"error", err.Err,
	)
}

func indexOf(entries []Snapshot, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

func filterEntries(entries []Snapshot, status Status) []Snapshot {
	out := []Snapshot{}
	for _, e := range entries {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, cloneSnapshot(e))
	}
	return out
}

func cloneEntries(entries []Snapshot) []Snapshot {
	out := make([]Snapshot, len(entries))
	for i := range entries {
		out[i] = cloneSnapshot(entries[i])
	}
	return out
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s.Media.Data != nil {
		data := make([]byte, len(s.Media.Data))
		copy(data, s.Media.Data)
		s.Media.Data = data
	}
	if s.Transform.EffectLevel != nil {
		lvl := *s.Transform.EffectLevel
		s.Transform.EffectLevel = &lvl
	}
	return s
}
