package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNotFound is returned when the engine knows nothing about a requested id
var ErrNotFound = errors.New("not found")

// Connector describes a connector registered in the engine
type Connector struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// DataSource is the active data connector of the document
type DataSource struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Engine is the embedded editing engine as seen from the host
type Engine interface {
	SetConfigValue(ctx context.Context, key, value string) error
	DocumentState(ctx context.Context) (json.RawMessage, error)
	// ActiveDataSource returns nil when the document has no data source
	ActiveDataSource(ctx context.Context) (*DataSource, error)
	ResolveFieldConfig(ctx context.Context, connectorID string) (map[string]string, error)
	Connector(ctx context.Context, id string) (*Connector, error)
}

// EventHandler answers an inbound engine event. The return value is sent
// back to the engine as the reply result.
type EventHandler func(ctx context.Context, params json.RawMessage) interface{}

// TokenProvider supplies the bearer token used for the handshake
type TokenProvider interface {
	OAuth2Token() (*oauth2.Token, error)
}

// Static is an Engine backed by fixed values. It serves documents exported
// from the editor when no live engine is attached.
type Static struct {
	Document    json.RawMessage
	DataSource  *DataSource
	FieldConfig map[string]map[string]string
	Connectors  map[string]Connector

	mu     sync.Mutex
	config map[string]string
}

// NewStaticFromFile loads a document snapshot from path
func NewStaticFromFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document file: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("document file %s is not valid JSON", path)
	}
	return &Static{Document: b}, nil
}

func (s *Static) SetConfigValue(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		s.config = make(map[string]string)
	}
	s.config[key] = value
	return nil
}

// ConfigValue returns a value previously set with SetConfigValue
func (s *Static) ConfigValue(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.config[key]
	return v, ok
}

func (s *Static) DocumentState(context.Context) (json.RawMessage, error) {
	if len(s.Document) == 0 {
		return nil, errors.New("no document loaded")
	}
	return s.Document, nil
}

func (s *Static) ActiveDataSource(context.Context) (*DataSource, error) {
	return s.DataSource, nil
}

func (s *Static) ResolveFieldConfig(_ context.Context, connectorID string) (map[string]string, error) {
	cfg, ok := s.FieldConfig[connectorID]
	if !ok {
		return map[string]string{}, nil
	}
	return cfg, nil
}

func (s *Static) Connector(_ context.Context, id string) (*Connector, error) {
	c, ok := s.Connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector %s: %w", id, ErrNotFound)
	}
	return &c, nil
}
