// Package manager is the multi-network façade applications embed: it
// owns one driver.Driver per HomeId and fans out watchers across all of
// them, so an embedding application can address however many Z-Wave
// controllers it has plugged in through a single entry point.
package manager

import ("errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"zwavehost/ctlcmd"
	"zwavehost/driver"
	"zwavehost/notification"
	"zwavehost/transport"
	"zwavehost/value")

var (ErrUnknownNetwork = errors.New("manager: unknown home id")
	ErrAlreadyAdded = errors.New("manager: a driver for this device is already open"))

// watcher pairs a registered application callback with the id returned
// to the caller, so Unwatch can find it across however many drivers it
// ended up attached to.
type watcher struct {
	id uuid.UUID
	fn notification.Watcher
	ctx any
	homes map[uint32]notification.Handle
}

// Manager coordinates every open Driver this process manages.
type Manager struct {
	mu sync.Mutex
	drivers map[uint32]*driver.Driver
	byDevice map[string]uint32

	watchersMu sync.Mutex
	watchers map[uuid.UUID]*watcher
}

// New() creates an empty Manager. No driver is open until AddDriver runs.
func New() *Manager {
	return &Manager{
		drivers: make(map[uint32]*driver.Driver),
		byDevice: make(map[string]uint32),
		watchers: make(map[uuid.UUID]*watcher),
	}
}

// AddDriver opens device under cfg, starts a Driver over it with opts,
// and attaches it to every watcher already registered via Watch. The
// HomeId isn't known until the new driver completes bootstrap(), so the
// device path is what guards against opening the same physical
// controller twice.
func (m *Manager) AddDriver(cfg *transport.Config, opts driver.Options) (*driver.Driver, error) {
	m.mu.Lock()
	if _, exists := m.byDevice[cfg.Device]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAdded, cfg.Device)
	}
	m.mu.Unlock()

	port, err := transport.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("manager: open %s: %w", cfg.Device, err)
	}

	d := driver.New(port, opts)
	if err := d.Start(); err != nil {
		port.Close()
		return nil, fmt.Errorf("manager: start %s: %w", cfg.Device, err)
	}

	homeID := d.HomeID()

	m.mu.Lock()
	m.drivers[homeID] = d
	m.byDevice[cfg.Device] = homeID
	m.mu.Unlock()

	m.attachWatchers(homeID, d)
	return d, nil
}

// RemoveDriver stops and detaches the driver for homeID.
func (m *Manager) RemoveDriver(homeID uint32) error {
	m.mu.Lock()
	d, ok := m.drivers[homeID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownNetwork
	}
	delete(m.drivers, homeID)
	for dev, h := range m.byDevice {
		if h == homeID {
			delete(m.byDevice, dev)
		}
	}
	m.mu.Unlock()

	m.detachWatchers(homeID)
	return d.Stop()
}

// Driver returns the driver for homeID, if open.
func (m *Manager) Driver(homeID uint32) (*driver.Driver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[homeID]
	return d, ok
}

// HomeIDs() lists every currently open network.
func (m *Manager) HomeIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint32, 0, len(m.drivers))
	for id := range m.drivers {
		ids = append(ids, id)
	}
	return ids
}

// Close() stops every open driver, collecting the first error.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.drivers))
	for id := range m.drivers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var first error
	for _, id := range ids {
		if err := m.RemoveDriver(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// EnqueueController forwards a ControllerCommand to the named network's
// scheduler.
func (m *Manager) EnqueueController(homeID uint32, cmd *ctlcmd.Command) error {
	d, ok := m.Driver(homeID)
	if !ok {
		return ErrUnknownNetwork
	}
	d.EnqueueController(cmd)
	return nil
}

// CancelControllerCommand forwards a cancel request to the named
// network.
func (m *Manager) CancelControllerCommand(homeID uint32, cmd *ctlcmd.Command) error {
	d, ok := m.Driver(homeID)
	if !ok {
		return ErrUnknownNetwork
	}
	return d.CancelControllerCommand(cmd)
}

// Value resolves a ValueID against its owning network's node table.
func (m *Manager) Value(id value.ID) (*value.Value, error) {
	d, ok := m.Driver(id.HomeID)
	if !ok {
		return nil, ErrUnknownNetwork
	}
	n, ok := d.Node(id.NodeID)
	if !ok {
		return nil, fmt.Errorf("manager: unknown node %d", id.NodeID)
	}
	v, ok := n.Value(id)
	if !ok {
		return nil, fmt.Errorf("manager: unknown value %+v", id)
	}
	return v, nil
}

// Watch registers fn against every network currently open and every
// network opened afterward, returning a handle identifying this
// registration across all of them.
func (m *Manager) Watch(fn notification.Watcher, ctx any) uuid.UUID {
	w := &watcher{id: uuid.New(), fn: fn, ctx: ctx, homes: make(map[uint32]notification.Handle)}

	m.mu.Lock()
	drivers := make(map[uint32]*driver.Driver, len(m.drivers))
	for id, d := range m.drivers {
		drivers[id] = d
	}
	m.mu.Unlock()

	m.watchersMu.Lock()
	m.watchers[w.id] = w
	m.watchersMu.Unlock()

	for homeID, d := range drivers {
		w.homes[homeID] = d.Watch(fn, ctx)
	}
	return w.id
}

// Unwatch removes a watcher registered via Watch from every network it
// was attached to.
func (m *Manager) Unwatch(id uuid.UUID) {
	m.watchersMu.Lock()
	w, ok := m.watchers[id]
	delete(m.watchers, id)
	m.watchersMu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for homeID, h := range w.homes {
		if d, ok := m.drivers[homeID]; ok {
			d.Unwatch(h)
		}
	}
}

func (m *Manager) attachWatchers(homeID uint32, d *driver.Driver) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	for _, w := range m.watchers {
		w.homes[homeID] = d.Watch(w.fn, w.ctx)
	}
}

func (m *Manager) detachWatchers(homeID uint32) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	for _, w := range m.watchers {
		delete(w.homes, homeID)
	}
}
