package connectorauth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrCancelled settles a process that was cancelled before it finished
var ErrCancelled = errors.New("connector authentication cancelled")

// State of an authentication process
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Settled reports whether s is terminal
func (s State) Settled() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Credential is what an interactive connector flow hands back to the engine
type Credential struct {
	Type    string            `json:"type"`
	Token   string            `json:"token,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Action performs the interactive flow for one connector
type Action func(ctx context.Context) (*Credential, error)

// Failure returns an Action that settles with err without doing any work.
// Used when the flow is already known to be impossible.
func Failure(err error) Action {
	return func(context.Context) (*Credential, error) {
		return nil, err
	}
}

// Process is one in-flight interactive authentication for one connector.
type Process struct {
	ID                string
	ConnectorName     string
	RemoteConnectorID string

	action   Action
	onSettle func(*Process)

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	cred    *Credential
	err     error
	done    chan struct{}
}

func newProcess(action Action, connectorName, remoteConnectorID string, onSettle func(*Process)) *Process {
	if action == nil {
		action = Failure(fmt.Errorf("no authentication action for connector %q", connectorName))
	}
	return &Process{
		ID:                uuid.NewString(),
		ConnectorName:     connectorName,
		RemoteConnectorID: remoteConnectorID,
		action:            action,
		onSettle:          onSettle,
		state:             StatePending,
		done:              make(chan struct{}),
	}
}

// State returns the current state
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the settled outcome. ok is false while unsettled.
func (p *Process) Result() (cred *Credential, err error, ok bool) {
	select {
	case <-p.done:
	default:
		return nil, nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cred, p.err, true
}

// Wait blocks until the process settles or ctx is done
func (p *Process) Wait(ctx context.Context) (*Credential, error) {
	select {
	case <-p.done:
		cred, err, _ := p.Result()
		return cred, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start runs the action once. Later calls return the settled result, and
// calls made while the action runs wait for it.
func (p *Process) Start(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	if p.started || p.state.Settled() {
		p.mu.Unlock()
		return p.Wait(ctx)
	}
	p.started = true
	p.state = StateRunning
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.mu.Unlock()

	cred, err := p.run(runCtx)
	cancel()

	if err == nil && cred == nil {
		err = fmt.Errorf("connector %q returned no credential", p.ConnectorName)
	}
	if err != nil {
		p.settle(StateFailed, nil, err)
	} else {
		p.settle(StateSucceeded, cred, nil)
	}

	<-p.done
	cred, err, _ = p.Result()
	return cred, err
}

// run calls the action and turns a panic into an error
func (p *Process) run(ctx context.Context) (cred *Credential, err error) {
	defer func() {
		if r := recover(); r != nil {
			cred = nil
			err = fmt.Errorf("connector %q authentication panicked: %v", p.ConnectorName, r)
		}
	}()
	return p.action(ctx)
}

// Cancel settles the process as cancelled. It is safe before Start and a
// no-op once settled.
func (p *Process) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if p.settle(StateCancelled, nil, ErrCancelled) && cancel != nil {
		cancel()
	}
}

// settle records the outcome exactly once and reports whether this call won.
// onSettle runs before done is closed, so woken waiters never observe the
// process as still registered.
func (p *Process) settle(state State, cred *Credential, err error) bool {
	p.mu.Lock()
	if p.state.Settled() {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.cred = cred
	p.err = err
	p.mu.Unlock()

	if p.onSettle != nil {
		p.onSettle(p)
	}
	close(p.done)
	return true
}

func (p *Process) outcome() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
