package directory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/storage"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
)

// CallJournal owns the in-memory call-history snapshot for one profile.
// Entries are written by the ingest pipeline; the journal only reads (and
// bulk-clears) them. Same serialization contract as ContactDirectory: one
// command goroutine, FIFO, full-snapshot emissions.
type CallJournal struct {
	repo      storage.CallHistoryRepo
	policy    ErrorPolicy
	profileID string

	commands  chan command
	done      chan struct{}
	closeOnce sync.Once
	bcast     *broadcaster[model.CallHistoryEntry]
}

// NewCallJournal constructs the journal for a single profile and starts its
// command loop. The profile is fixed at construction; callers needing another
// profile construct another journal.
func NewCallJournal(repo storage.CallHistoryRepo, policy ErrorPolicy, profileID string) *CallJournal {
	if policy == "" {
		policy = ErrorPolicyBestEffort
	}
	j := &CallJournal{
		repo:      repo,
		policy:    policy,
		profileID: profileID,
		commands:  make(chan command, commandQueueSize),
		done:      make(chan struct{}),
		bcast:     newBroadcaster[model.CallHistoryEntry]("call_history", profileID),
	}
	go j.run()
	j.enqueueAsync("initial refresh", func() {
		j.refresh(context.Background())
	})
	return j
}

func (j *CallJournal) run() {
	for {
		select {
		case cmd := <-j.commands:
			cmd.exec()
		case <-j.done:
			for {
				select {
				case cmd := <-j.commands:
					cmd.exec()
				default:
					return
				}
			}
		}
	}
}

func (j *CallJournal) enqueueAsync(name string, run func()) {
	select {
	case j.commands <- command{name: name, run: run}:
	case <-j.done:
	}
}

func (j *CallJournal) enqueue(ctx context.Context, name string, run func() error) error {
	reply := make(chan error, 1)
	select {
	case j.commands <- command{name: name, run: func() { reply <- run() }}:
	case <-j.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProfileID returns the profile this journal is scoped to.
func (j *CallJournal) ProfileID() string {
	return j.profileID
}

// Refresh re-fetches the profile's history, newest first, and publishes it.
func (j *CallJournal) Refresh(ctx context.Context) error {
	return j.enqueue(ctx, "refresh call history", func() error {
		return j.refresh(ctx)
	})
}

// NotifyAppended schedules a refresh without waiting for it. Used by the
// ingest pipeline after persisting new entries.
func (j *CallJournal) NotifyAppended() {
	j.enqueueAsync("appended refresh", func() {
		j.refresh(context.Background())
	})
}

func (j *CallJournal) refresh(ctx context.Context) error {
	entries, err := j.repo.FetchAll(ctx, j.profileID)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to refresh call history snapshot",
			zap.String("profile_id", j.profileID),
			zap.Error(err))
		if j.policy == ErrorPolicySurface {
			return err
		}
		return nil
	}
	j.bcast.Publish(entries)
	return nil
}

// ClearAll removes every entry for the profile and publishes an empty
// snapshot.
func (j *CallJournal) ClearAll(ctx context.Context) error {
	return j.enqueue(ctx, "clear call history", func() error {
		if err := j.repo.Clear(ctx, j.profileID); err != nil {
			return err
		}
		return j.refresh(ctx)
	})
}

// Snapshot returns the most recently published collection.
func (j *CallJournal) Snapshot() []model.CallHistoryEntry {
	snapshot, ok := j.bcast.Latest()
	if !ok {
		return []model.CallHistoryEntry{}
	}
	return snapshot
}

// Subscribe registers an observer of full-collection snapshots.
func (j *CallJournal) Subscribe() (<-chan []model.CallHistoryEntry, func()) {
	return j.bcast.Subscribe()
}

// Close stops the command loop and closes all subscriber channels. Safe to
// call more than once.
func (j *CallJournal) Close() {
	j.closeOnce.Do(func() {
		close(j.done)
		j.bcast.Close()
	})
}
