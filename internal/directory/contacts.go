package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-directory/internal/cache"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/storage"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/phone"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/utils"
)

// ErrorPolicy controls what happens when a background refresh hits a store
// error. Validation failures (duplicates, not-found) always surface to the
// caller regardless of policy.
type ErrorPolicy string

const (
	// ErrorPolicyBestEffort logs refresh errors and keeps the last known
	// snapshot. Callers never see store read failures.
	ErrorPolicyBestEffort ErrorPolicy = "besteffort"
	// ErrorPolicySurface propagates refresh errors to the caller.
	ErrorPolicySurface ErrorPolicy = "surface"
)

// ErrClosed is returned for operations issued after Close.
var ErrClosed = errors.New("directory closed")

const commandQueueSize = 64

type command struct {
	name string
	run  func()
}

// exec runs the command with panic recovery so one bad operation cannot
// kill the repository's command loop.
func (c command) exec() {
	defer utils.RecoverWithLog(context.Background(), c.name)
	c.run()
}

// ContactDirectory owns the in-memory contact snapshot. All operations are
// executed on a single goroutine in issue order, so snapshot reads and
// writes never race. Every successful mutation re-fetches the full
// collection and publishes it to subscribers.
type ContactDirectory struct {
	repo      storage.ContactRepo
	numbers   *cache.ContactNumberCache
	policy    ErrorPolicy
	profileID string

	commands  chan command
	done      chan struct{}
	closeOnce sync.Once
	bcast     *broadcaster[model.Contact]
}

// NewContactDirectory constructs the directory and starts its command loop.
// The initial snapshot load is issued asynchronously; subscribers receive it
// as their first emission.
func NewContactDirectory(repo storage.ContactRepo, numbers *cache.ContactNumberCache, policy ErrorPolicy, profileID string) *ContactDirectory {
	if policy == "" {
		policy = ErrorPolicyBestEffort
	}
	d := &ContactDirectory{
		repo:      repo,
		numbers:   numbers,
		policy:    policy,
		profileID: profileID,
		commands:  make(chan command, commandQueueSize),
		done:      make(chan struct{}),
		bcast:     newBroadcaster[model.Contact]("contacts", profileID),
	}
	go d.run()
	d.enqueueAsync("initial refresh", func() {
		d.refresh(context.Background())
	})
	return d
}

// run executes queued commands in FIFO order until Close.
func (d *ContactDirectory) run() {
	for {
		select {
		case cmd := <-d.commands:
			cmd.exec()
		case <-d.done:
			// Drain anything already queued so callers are not left waiting.
			for {
				select {
				case cmd := <-d.commands:
					cmd.exec()
				default:
					return
				}
			}
		}
	}
}

func (d *ContactDirectory) enqueueAsync(name string, run func()) {
	select {
	case d.commands <- command{name: name, run: run}:
	case <-d.done:
	}
}

// enqueue submits an operation and waits for its completion.
func (d *ContactDirectory) enqueue(ctx context.Context, name string, run func() error) error {
	reply := make(chan error, 1)
	select {
	case d.commands <- command{name: name, run: func() { reply <- run() }}:
	case <-d.done:
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

// CreateContact validates, normalizes, and persists a new contact. It fails
// with ErrDuplicate when another contact already holds the same normalized
// number, leaving the store unchanged.
func (d *ContactDirectory) CreateContact(ctx context.Context, name, phoneNumber string, imageData []byte) (*model.Contact, error) {
	normalized := phone.Normalize(phoneNumber)
	if normalized == "" {
		return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrBadRequest)
	}

	var created *model.Contact
	err := d.enqueue(ctx, "create contact", func() error {
		log := logger.FromContext(ctx)

		// Bloom precheck: a miss means the number is definitely new and the
		// lookup can be skipped. A hit must be confirmed against the store.
		if d.numbers != nil && d.numbers.MaybeKnown(normalized) {
			existing, findErr := d.repo.FindByPhone(ctx, normalized)
			if findErr == nil && existing != nil {
				return fmt.Errorf("%w: phone number %s already belongs to contact %s", apperrors.ErrDuplicate, normalized, existing.ID)
			}
			if findErr != nil && !errors.Is(findErr, apperrors.ErrNotFound) {
				return findErr
			}
			d.numbers.RecordFalsePositive()
		}

		contact, insertErr := d.repo.Insert(ctx, model.Contact{
			Name:         name,
			PhoneNumber:  normalized,
			ProfileImage: imageData,
		})
		if insertErr != nil {
			return insertErr
		}
		created = contact

		if d.numbers != nil {
			d.numbers.Add(normalized)
		}
		d.refresh(ctx)
		log.Info("Contact created",
			zap.String("contact_id", contact.ID),
			zap.String("phone_number", normalized))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteContact removes a contact by ID. Returns ErrNotFound when no contact
// matches; the snapshot is left unchanged in that case.
func (d *ContactDirectory) DeleteContact(ctx context.Context, id string) error {
	return d.enqueue(ctx, "delete contact", func() error {
		if err := d.repo.DeleteByID(ctx, id); err != nil {
			return err
		}
		d.refresh(ctx)
		logger.FromContext(ctx).Info("Contact deleted", zap.String("contact_id", id))
		return nil
	})
}

// ClearAll removes every contact and publishes an empty snapshot.
func (d *ContactDirectory) ClearAll(ctx context.Context) error {
	return d.enqueue(ctx, "clear contacts", func() error {
		if err := d.repo.Clear(ctx); err != nil {
			return err
		}
		d.refresh(ctx)
		return nil
	})
}

// Refresh re-fetches the collection from the store and publishes it. Under
// the best-effort policy a store read failure is logged and swallowed.
func (d *ContactDirectory) Refresh(ctx context.Context) error {
	return d.enqueue(ctx, "refresh contacts", func() error {
		return d.refresh(ctx)
	})
}

// refresh runs on the command goroutine.
func (d *ContactDirectory) refresh(ctx context.Context) error {
	contacts, err := d.repo.FetchAll(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to refresh contact snapshot", zap.Error(err))
		if d.policy == ErrorPolicySurface {
			return err
		}
		// Best effort: keep the last known snapshot.
		return nil
	}

	if d.numbers != nil {
		numbers := make([]string, 0, len(contacts))
		for _, c := range contacts {
			numbers = append(numbers, c.PhoneNumber)
		}
		d.numbers.Rebuild(numbers)
	}

	d.bcast.Publish(contacts)
	return nil
}

// Snapshot returns the most recently published collection. Before the first
// refresh completes it returns an empty slice.
func (d *ContactDirectory) Snapshot() []model.Contact {
	snapshot, ok := d.bcast.Latest()
	if !ok {
		return []model.Contact{}
	}
	return snapshot
}

// Subscribe registers an observer of full-collection snapshots.
func (d *ContactDirectory) Subscribe() (<-chan []model.Contact, func()) {
	return d.bcast.Subscribe()
}

// Close stops the command loop and closes all subscriber channels. Safe to
// call more than once.
func (d *ContactDirectory) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.bcast.Close()
	})
}
