package server

import (
	"errors"
	"sync"
)

var ErrNotConnected = errors.New("user has no registered connection")

// Peer - живое транспортное соединение аутентифицированного пользователя.
type Peer interface {
	Send(v any) error
	Close() error
}

type registryEntry struct {
	role string
	peer Peer
}

// Registry tracks which authenticated identity owns which live connection.
// Одна запись на пользователя: повторная аутентификация с нового
// соединения вытесняет старое (последний победил, без мультидевайса).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]registryEntry)}
}

// Register stores the connection for the user and returns the displaced
// peer, if any, so the caller can close it.
func (r *Registry) Register(userID, role string, p Peer) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var displaced Peer
	if old, ok := r.conns[userID]; ok && old.peer != p {
		displaced = old.peer
	}
	r.conns[userID] = registryEntry{role: role, peer: p}
	metricActiveConnections.Set(float64(len(r.conns)))
	return displaced
}

// Unregister removes the user's entry only if the given peer is still the
// one on record. Защита от гонки: запоздавшее закрытие старого соединения
// не должно снести запись нового.
func (r *Registry) Unregister(userID string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[userID]
	if !ok || entry.peer != p {
		return false
	}
	delete(r.conns, userID)
	metricActiveConnections.Set(float64(len(r.conns)))
	return true
}

// Push delivers a frame to the user's registered connection, if any.
func (r *Registry) Push(userID string, v any) error {
	r.mu.RLock()
	entry, ok := r.conns[userID]
	r.mu.RUnlock()

	if !ok {
		return ErrNotConnected
	}
	return entry.peer.Send(v)
}

// Broadcast sends a frame to every registered connection with the given
// role and returns the number of successful sends.
func (r *Registry) Broadcast(role string, v any) int {
	r.mu.RLock()
	peers := make([]Peer, 0, len(r.conns))
	for _, entry := range r.conns {
		if entry.role == role {
			peers = append(peers, entry.peer)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, p := range peers {
		if err := p.Send(v); err == nil {
			sent++
		}
	}
	return sent
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown closes every registered connection and clears the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	peers := make([]Peer, 0, len(r.conns))
	for _, entry := range r.conns {
		peers = append(peers, entry.peer)
	}
	r.conns = make(map[string]registryEntry)
	metricActiveConnections.Set(0)
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
