// Package connectivity reports network reachability to the sync engine.
// The Monitor replaces a platform reachability API with a periodic
// HTTP probe of the server's health endpoint.
package connectivity

import (
	"net/http"
	"sync"
	"time"

	"github.com/synkahealth/synka-client/internal/logging"
)

// Oracle is the reachability contract consumed by the sync engine:
// a point-in-time answer plus a change-notification stream.
type Oracle interface {
	// IsConnected reports current reachability.
	IsConnected() bool

	// Subscribe returns a channel receiving the new state on every
	// transition, and a function to unsubscribe.
	Subscribe() (<-chan bool, func())
}

// Monitor probes a health URL on a fixed interval and tracks
// online/offline transitions.
type Monitor struct {
	healthURL string
	interval  time.Duration
	client    *http.Client

	mu     sync.RWMutex
	online bool
	subs   map[int]chan bool
	nextID int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// DefaultProbeInterval matches the sync timer cadence.
const DefaultProbeInterval = 30 * time.Second

// probeTimeout keeps a dead network from stalling the monitor loop.
const probeTimeout = 5 * time.Second

// NewMonitor creates a Monitor for the given health URL. The monitor
// starts pessimistic (offline) until the first successful probe.
func NewMonitor(healthURL string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		healthURL: healthURL,
		interval:  interval,
		client:    &http.Client{Timeout: probeTimeout},
		subs:      make(map[int]chan bool),
		stopCh:    make(chan struct{}),
	}
}

// IsConnected implements Oracle.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe implements Oracle. Notifications are dropped rather than
// blocking when a subscriber is slow.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Check probes the health endpoint once and records the result.
func (m *Monitor) Check() bool {
	online := m.probe()
	m.setOnline(online)
	return online
}

// probe performs one reachability request.
func (m *Monitor) probe() bool {
	req, err := http.NewRequest(http.MethodHead, m.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// setOnline records the state and notifies subscribers on transitions.
// The sends happen under the lock so a concurrent unsubscribe cannot
// close a channel mid-notification; they are non-blocking, so holding
// the lock is cheap.
func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	if changed {
		for _, ch := range m.subs {
			select {
			case ch <- online:
			default:
			}
		}
	}
	m.mu.Unlock()

	if changed {
		logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	}
}

// Start begins the periodic probe loop. Starting twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// Establish initial state promptly instead of waiting a tick.
		m.Check()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Stop halts the probe loop. Stopping when not started is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}
