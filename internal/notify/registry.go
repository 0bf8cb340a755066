package notify

import (
	"sync"

	"github.com/google/uuid"

	"chroniq.app/engine/internal/model"
)

const subscriptionBuffer = 16

// Subscription is an ephemeral handle to one job's update feed. The channel
// is closed after the terminal update is delivered, or on Unsubscribe/Close.
type Subscription struct {
	ID    uuid.UUID
	JobID int64
	ch    chan model.JobUpdate
}

// Updates returns the receive side of the subscription channel.
func (s *Subscription) Updates() <-chan model.JobUpdate {
	return s.ch
}

// Registry is the per-process fan-out point for job updates. Subscribers
// register interest in a job id; publishers push updates for a job id.
// Terminal updates are delivered exactly once to every subscriber present at
// publish time, after which all of the job's subscriptions are removed.
// Subscribers that arrive after the terminal update get it from the snapshot
// they pass to Subscribe.
type Registry struct {
	mu     sync.Mutex
	subs   map[int64]map[uuid.UUID]*Subscription
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[int64]map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers for updates on jobID. snapshot is the job row the
// caller just read: when it is already terminal the subscription is not
// registered at all, it just delivers that one update and closes. This
// closes the gap between reading the snapshot and registering.
func (r *Registry) Subscribe(jobID int64, snapshot *model.Job) *Subscription {
	sub := &Subscription{
		ID:    uuid.New(),
		JobID: jobID,
		ch:    make(chan model.JobUpdate, subscriptionBuffer),
	}

	if snapshot != nil && snapshot.Status.IsTerminal() {
		sub.ch <- UpdateFromJob(snapshot)
		close(sub.ch)
		return sub
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		close(sub.ch)
		return sub
	}

	jobSubs, ok := r.subs[jobID]
	if !ok {
		jobSubs = make(map[uuid.UUID]*Subscription)
		r.subs[jobID] = jobSubs
	}
	jobSubs[sub.ID] = sub
	return sub
}

// Publish fans an update out to every subscription for its job. Non-terminal
// updates are best-effort progress: a full subscriber buffer drops them.
// Terminal updates evict buffered progress if needed so the terminal update
// is always delivered, then the job's subscriptions are removed.
func (r *Registry) Publish(update model.JobUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	jobSubs, ok := r.subs[update.JobID]
	if !ok {
		return
	}

	terminal := update.Status.IsTerminal()
	for _, sub := range jobSubs {
		if terminal {
			deliverTerminal(sub.ch, update)
			close(sub.ch)
		} else {
			select {
			case sub.ch <- update:
			default:
			}
		}
	}

	if terminal {
		delete(r.subs, update.JobID)
	}
}

// deliverTerminal makes room by evicting buffered progress updates until the
// terminal update fits. The subscriber may be draining concurrently, so both
// the send and the eviction race benignly with receives.
func deliverTerminal(ch chan model.JobUpdate, update model.JobUpdate) {
	for {
		select {
		case ch <- update:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Unsubscribe removes a handle before its terminal update. No-op when the
// subscription already completed or was never registered.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobSubs, ok := r.subs[sub.JobID]
	if !ok {
		return
	}
	if _, ok := jobSubs[sub.ID]; !ok {
		return
	}
	delete(jobSubs, sub.ID)
	if len(jobSubs) == 0 {
		delete(r.subs, sub.JobID)
	}
	close(sub.ch)
}

// Close shuts the registry down, closing every open subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	for _, jobSubs := range r.subs {
		for _, sub := range jobSubs {
			close(sub.ch)
		}
	}
	r.subs = make(map[int64]map[uuid.UUID]*Subscription)
}

// UpdateFromJob projects a job row into the notification payload.
func UpdateFromJob(job *model.Job) model.JobUpdate {
	return model.JobUpdate{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		EntryID:       job.EntryID,
		Status:        job.Status,
		ErrorMessage:  job.ErrorMessage,
		ResultSummary: job.ResultSummary,
	}
}
