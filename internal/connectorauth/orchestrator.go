package connectorauth

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/logger"
)

// Orchestrator keeps at most one unsettled Process per remote connector id
// and exposes the open ones, in creation order, to whatever renders prompts.
type Orchestrator struct {
	mu          sync.Mutex
	byConnector map[string]*Process
	order       []*Process
	subscribers map[int]chan struct{}
	nextSubID   int
	logger      zerolog.Logger
}

func New(log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		byConnector: make(map[string]*Process),
		subscribers: make(map[int]chan struct{}),
		logger:      logger.Component(log, "connectorauth"),
	}
}

// CreateProcess returns the unsettled process for remoteConnectorID if there
// is one; otherwise it registers a new pending process around action.
func (o *Orchestrator) CreateProcess(action Action, connectorName, remoteConnectorID string) *Process {
	o.mu.Lock()
	if existing, ok := o.byConnector[remoteConnectorID]; ok {
		o.mu.Unlock()
		o.logger.Debug().
			Str("remote_connector_id", remoteConnectorID).
			Str("process_id", existing.ID).
			Msg("Attaching to existing authentication process")
		return existing
	}

	p := newProcess(action, connectorName, remoteConnectorID, o.remove)
	o.byConnector[remoteConnectorID] = p
	o.order = append(o.order, p)
	o.mu.Unlock()

	o.logger.Info().
		Str("remote_connector_id", remoteConnectorID).
		Str("connector", connectorName).
		Str("process_id", p.ID).
		Msg("🔐 Connector authentication required")

	o.notify()
	return p
}

// GetProcess looks up the unsettled process for remoteConnectorID
func (o *Orchestrator) GetProcess(remoteConnectorID string) (*Process, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.byConnector[remoteConnectorID]
	return p, ok
}

// Pending returns the unsettled processes in creation order
func (o *Orchestrator) Pending() []*Process {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Process, len(o.order))
	copy(out, o.order)
	return out
}

// Subscribe returns a channel that receives a value whenever the pending set
// changes. Notifications coalesce. Call the returned func to unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subscribers, id)
			o.mu.Unlock()
		})
	}
}

func (o *Orchestrator) remove(p *Process) {
	o.mu.Lock()
	if current, ok := o.byConnector[p.RemoteConnectorID]; ok && current == p {
		delete(o.byConnector, p.RemoteConnectorID)
	}
	for i, q := range o.order {
		if q == p {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	err := p.outcome()
	ev := o.logger.Info()
	if err != nil {
		ev = o.logger.Warn().Err(err)
	}
	ev.Str("remote_connector_id", p.RemoteConnectorID).
		Str("process_id", p.ID).
		Str("state", string(p.State())).
		Msg("Connector authentication settled")

	o.notify()
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
