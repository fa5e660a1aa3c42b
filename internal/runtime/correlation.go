package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/relay/internal/runtime/envelope"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// TimeoutError reports a request that received no reply in time.
type TimeoutError struct {
	Timeout  time.Duration
	Envelope *envelope.Envelope
}

func (e *TimeoutError) Error() string {
	id := ""
	if e.Envelope != nil {
		id = e.Envelope.ID
	}
	return fmt.Sprintf("relay: no reply to %s within %s", id, e.Timeout)
}

// Is implements errors.Is for TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == errspkg.ErrTimeout
}

// Pending is the caller's handle on a request awaiting its reply. It
// resolves exactly once.
type Pending struct {
	env       *envelope.Envelope
	startedAt time.Time
	table     *correlationTable
	timer     *time.Timer

	once    sync.Once
	done    chan struct{}
	content any
	err     error
}

// ID returns the id of the request.
func (p *Pending) ID() string { return p.env.ID }

// Envelope returns the request envelope.
func (p *Pending) Envelope() *envelope.Envelope { return p.env }

// Done is closed once the request resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the reply arrives, the request times out or ctx ends.
// A cancelled ctx abandons the request. A nil Pending (one-way send)
// returns immediately.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	if p == nil {
		return nil, nil
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		p.table.resolve(p.env.ID, nil, ctx.Err())
		<-p.done
	}
	return p.content, p.err
}

func (p *Pending) complete(content any, err error) {
	p.once.Do(func() {
		p.content, p.err = content, err
		close(p.done)
	})
}

// correlationTable maps request ids to pending slots. Removal from the map
// decides which of reply, timeout, failure, cancellation or drain resolves
// a slot.
type correlationTable struct {
	mu    sync.Mutex
	slots map[string]*Pending

	onTimeout func(p *Pending)
	// onChange receives the slot count after every change, under the lock
	// so counts are reported in order.
	onChange func(pending int)
}

func newCorrelationTable(onTimeout func(p *Pending), onChange func(pending int)) *correlationTable {
	return &correlationTable{
		slots:     make(map[string]*Pending),
		onTimeout: onTimeout,
		onChange:  onChange,
	}
}

func (t *correlationTable) changedLocked() {
	if t.onChange != nil {
		t.onChange(len(t.slots))
	}
}

// register adds a slot for env and arms its timer when env has a timeout.
func (t *correlationTable) register(env *envelope.Envelope) (*Pending, error) {
	p := &Pending{
		env:       env,
		startedAt: time.Now(),
		table:     t,
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.slots[env.ID]; exists {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDuplicateMessageID, env.ID)
	}
	t.slots[env.ID] = p
	t.changedLocked()
	if env.Timeout > 0 {
		timeout := env.Timeout
		p.timer = time.AfterFunc(timeout, func() {
			if t.resolve(env.ID, nil, &TimeoutError{Timeout: timeout, Envelope: env}) != nil && t.onTimeout != nil {
				t.onTimeout(p)
			}
		})
	}
	return p, nil
}

// resolve removes the slot for id and completes it. It returns nil when the
// slot was already gone.
func (t *correlationTable) resolve(id string, content any, err error) *Pending {
	t.mu.Lock()
	p, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
		t.changedLocked()
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.complete(content, err)
	return p
}

// drain abandons every slot with err and returns how many there were.
func (t *correlationTable) drain(err error) int {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[string]*Pending)
	t.changedLocked()
	t.mu.Unlock()

	for _, p := range slots {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.complete(nil, err)
	}
	return len(slots)
}

// Len returns the number of pending requests.
func (t *correlationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
