package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const stateFile = "topologies.json"

// VethInfo stores one end pair of a realized link
type VethInfo struct {
	Name string `json:"name"` // End kept in the root namespace or moved to a host
	Peer string `json:"peer"` // Other end
}

// TopologyState stores everything an engine created for one topology
type TopologyState struct {
	Name           string     `json:"name"`
	Bridges        []string   `json:"bridges"`
	Namespaces     []string   `json:"namespaces"`
	Veths          []VethInfo `json:"veths"`
	Ports          []string   `json:"ports,omitempty"` // bridge:port entries added outside of veths
	ControllerIP   string     `json:"controller_ip,omitempty"`
	ControllerPort int        `json:"controller_port,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Store manages persistent topology state
type Store struct {
	dataDir    string
	mu         sync.RWMutex
	topologies map[string]*TopologyState
}

// NewStore creates a new persistent store
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("no state directory given")
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dataDir:    dataDir,
		topologies: make(map[string]*TopologyState),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return s, nil
}

// SaveTopology persists a topology state, replacing any previous one
func (s *Store) SaveTopology(state *TopologyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}
	s.topologies[state.Name] = state
	return s.persist()
}

// Update applies fn to the named state, creating it if needed, and persists the result
func (s *Store) Update(name string, fn func(*TopologyState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.topologies[name]
	if !ok {
		state = &TopologyState{Name: name, CreatedAt: time.Now().UTC()}
		s.topologies[name] = state
	}
	fn(state)
	return s.persist()
}

// GetTopology retrieves a topology state
func (s *Store) GetTopology(name string) (*TopologyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.topologies[name]
	if !ok {
		return nil, fmt.Errorf("topology %s not found", name)
	}
	return state, nil
}

// DeleteTopology removes a topology state
func (s *Store) DeleteTopology(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.topologies, name)
	return s.persist()
}

// ListTopologies returns all recorded topologies sorted by name
func (s *Store) ListTopologies() []*TopologyState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*TopologyState, 0, len(s.topologies))
	for _, state := range s.topologies {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// persist saves state to disk through a temp file and rename
func (s *Store) persist() error {
	path := filepath.Join(s.dataDir, stateFile)
	data, err := json.MarshalIndent(s.topologies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal topologies: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write topologies file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace topologies file: %w", err)
	}
	return nil
}

// load reads state from disk
func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, stateFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read topologies file: %w", err)
	}
	if err := json.Unmarshal(data, &s.topologies); err != nil {
		return fmt.Errorf("failed to unmarshal topologies: %w", err)
	}
	return nil
}
