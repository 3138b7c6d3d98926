package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samsaffron/noma/internal/config"
	"github.com/samsaffron/noma/internal/tools"
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusDisabled ServerStatus = "disabled"
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState is a snapshot of one configured server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Tools  int
}

// Manager starts the configured servers and routes calls to them.
type Manager struct {
	servers  map[string]config.MCPServerConfig
	clients  map[string]*Client
	statuses map[string]*ServerState
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewManager creates a manager for servers. Nothing is started yet.
func NewManager(servers map[string]config.MCPServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		servers:  servers,
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
		logger:   logger,
	}
	for name, cfg := range servers {
		status := StatusStopped
		if !cfg.IsEnabled() {
			status = StatusDisabled
		}
		m.statuses[name] = &ServerState{Name: name, Status: status}
	}
	return m
}

// ServerNames returns the configured server names, sorted.
func (m *Manager) ServerNames() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every enabled server concurrently and waits for them. A
// server that fails to start is logged and left out; ctx bounds the server
// processes, so it should live as long as the tools are used.
func (m *Manager) StartAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range m.ServerNames() {
		if !m.servers[name].IsEnabled() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Enable(ctx, name); err != nil {
				m.logger.Warn("MCP server failed to start", "server", name, "error", err)
			}
		}()
	}
	wg.Wait()
}

// Enable starts one server and blocks until it is ready or failed.
func (m *Manager) Enable(ctx context.Context, name string) error {
	return m.enable(ctx, name, nil)
}

func (m *Manager) enable(ctx context.Context, name string, client *Client) error {
	m.mu.Lock()
	cfg, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %s", name)
	}
	if state, ok := m.statuses[name]; ok && (state.Status == StatusStarting || state.Status == StatusReady) {
		m.mu.Unlock()
		return nil
	}
	if client == nil {
		client = NewClient(name, cfg)
	}
	m.clients[name] = client
	m.statuses[name] = &ServerState{Name: name, Status: StatusStarting}
	m.mu.Unlock()

	start := time.Now()
	err := client.Start(ctx)

	count := 0
	if err == nil {
		count = len(client.Tools())
	}

	m.mu.Lock()
	state := m.statuses[name]
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
		delete(m.clients, name)
	} else {
		state.Status = StatusReady
		state.Error = nil
		state.Tools = count
	}
	m.mu.Unlock()

	if err == nil {
		m.logger.Debug("MCP server ready", "server", name, "tools", count, "duration", time.Since(start))
	}
	return err
}

// Disable stops a server.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.clients, name)
	if state, ok := m.statuses[name]; ok {
		state.Status = StatusStopped
		state.Error = nil
		state.Tools = 0
	}
	m.mu.Unlock()

	return client.Stop()
}

// StopAll stops all running servers.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for name, c := range m.clients {
		clients = append(clients, c)
		if state, ok := m.statuses[name]; ok {
			state.Status = StatusStopped
			state.Tools = 0
		}
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Tools returns the tools of all ready servers, sorted by qualified name.
func (m *Manager) Tools() []*Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Tool
	for name, client := range m.clients {
		if m.statuses[name].Status != StatusReady {
			continue
		}
		for _, spec := range client.Tools() {
			out = append(out, NewTool(name, spec, client))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Declaration().Name < out[j].Declaration().Name
	})
	return out
}

// Register adds the tools of all ready servers to registry. A name clash
// with an existing tool is reported and the rest are still registered.
func (m *Manager) Register(registry *tools.Registry) error {
	var errs []error
	for _, tool := range m.Tools() {
		if err := registry.Register(tool); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CallTool routes a qualified tool name to its server.
func (m *Manager) CallTool(ctx context.Context, fullName string, args map[string]any) (string, error) {
	serverName, toolName := parseToolName(fullName)
	if serverName == "" {
		return "", fmt.Errorf("invalid MCP tool name: %s (expected server__tool)", fullName)
	}

	m.mu.RLock()
	client, ok := m.clients[serverName]
	ready := ok && m.statuses[serverName].Status == StatusReady
	m.mu.RUnlock()

	if !ready {
		return "", fmt.Errorf("MCP server %s is not running", serverName)
	}
	return client.CallTool(ctx, toolName, args)
}

// States returns a snapshot of every configured server, sorted by name.
func (m *Manager) States() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, state := range m.statuses {
		states = append(states, *state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}
