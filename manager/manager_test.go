package manager

import ("testing"
	"time"

	"zwavehost/driver"
	"zwavehost/notification"
	"zwavehost/serialapi"
	"zwavehost/transport")

// bootDriver builds a Driver over a MockPort and feeds it the minimal
// bootstrap() handshake (GetVersion, MemoryGetId, GetControllerCapabilities)
// on a background goroutine, returning once Start() has completed.
func bootDriver(t *testing.T, homeID uint32, nodeID byte) (*driver.Driver, *transport.MockPort) {
	t.Helper()
	port := transport.NewMockPort(512)

	opts := driver.DefaultOptions()
	opts.UserPath = t.TempDir()
	opts.AutoUpdateConfigFile = false

	d := driver.New(port, opts)

	startErr := make(chan error, 1)
	go func() { startErr <- d.Start() }()

	feedBootstrapReply(t, port, serialapi.FuncGetVersion, []byte("Z-Wave 6.51\x00"))
	feedBootstrapReply(t, port, serialapi.FuncMemoryGetID, memoryGetIDPayload(homeID, nodeID))
	feedBootstrapReply(t, port, serialapi.FuncGetControllerCapabilities, []byte{0x00})

	select {
	case err := <-startErr:
		if err != nil {
			t.Fatalf("driver Start(): %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for driver bootstrap() to complete")
	}
	return d, port
}

func feedBootstrapReply(t *testing.T, port *transport.MockPort, funcID byte, payload []byte) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(port.Writes()) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	port.Feed([]byte{serialapi.ACK})
	port.Feed(serialapi.Encode(serialapi.Frame{Type: serialapi.TypeResponse, Func: funcID, Payload: payload}))
}

func memoryGetIDPayload(homeID uint32, nodeID byte) []byte {
	return []byte{
		byte(homeID >> 24), byte(homeID >> 16), byte(homeID >> 8), byte(homeID),
		nodeID,
	}
}

func stopDriver(t *testing.T, d *driver.Driver) {
	t.Helper()
	if err := d.Stop(); err != nil {
		t.Fatalf("driver Stop(): %v", err)
	}
}

// insertDriver mimics AddDriver's bookkeeping without going through
// transport.Open, so tests can exercise the watcher fan-out against a
// MockPort-backed driver instead of a real serial device.
func insertDriver(m *Manager, device string, homeID uint32, d *driver.Driver) {
	m.mu.Lock()
	m.drivers[homeID] = d
	m.byDevice[device] = homeID
	m.mu.Unlock()
	m.attachWatchers(homeID, d)
}

func removeDriver(t *testing.T, m *Manager, homeID uint32) {
	t.Helper()
	if err := m.RemoveDriver(homeID); err != nil {
		t.Fatalf("RemoveDriver: %v", err)
	}
}

func noopWatcher(notification.Notification, any) {}

func TestManagerWatchFansOutToExistingDriver(t *testing.T) {
	m := New()
	d, _ := bootDriver(t, 0x11223344, 1)
	insertDriver(m, "/dev/mock0", d.HomeID(), d)
	defer stopDriver(t, d)

	id := m.Watch(noopWatcher, nil)
	defer m.Unwatch(id)

	m.watchersMu.Lock()
	w, ok := m.watchers[id]
	homes := len(w.homes)
	m.watchersMu.Unlock()
	if !ok {
		t.Fatal("watcher not registered")
	}
	if homes != 1 {
		t.Fatalf("expected watcher attached to 1 driver, got %d", homes)
	}
}

func TestManagerWatchAttachesToDriverAddedLater(t *testing.T) {
	m := New()
	id := m.Watch(noopWatcher, nil)
	defer m.Unwatch(id)

	m.watchersMu.Lock()
	before := len(m.watchers[id].homes)
	m.watchersMu.Unlock()
	if before != 0 {
		t.Fatalf("expected 0 homes before any driver is added, got %d", before)
	}

	d, _ := bootDriver(t, 0x22334455, 1)
	insertDriver(m, "/dev/mock1", d.HomeID(), d)
	defer stopDriver(t, d)

	m.watchersMu.Lock()
	after := len(m.watchers[id].homes)
	m.watchersMu.Unlock()
	if after != 1 {
		t.Fatalf("expected watcher attached to the newly added driver, got %d homes", after)
	}
}

func TestManagerRemoveDriverDetachesWatchers(t *testing.T) {
	m := New()
	d, _ := bootDriver(t, 0x33445566, 1)
	insertDriver(m, "/dev/mock2", d.HomeID(), d)

	id := m.Watch(noopWatcher, nil)
	defer m.Unwatch(id)

	removeDriver(t, m, d.HomeID())

	m.watchersMu.Lock()
	homes := len(m.watchers[id].homes)
	m.watchersMu.Unlock()
	if homes != 0 {
		t.Fatalf("expected watcher detached after RemoveDriver, got %d homes", homes)
	}
}

func TestManagerUnwatchRemovesFromAllDrivers(t *testing.T) {
	m := New()
	d1, _ := bootDriver(t, 0x44556677, 1)
	insertDriver(m, "/dev/mock3", d1.HomeID(), d1)
	defer stopDriver(t, d1)

	d2, _ := bootDriver(t, 0x55667788, 1)
	insertDriver(m, "/dev/mock4", d2.HomeID(), d2)
	defer stopDriver(t, d2)

	id := m.Watch(noopWatcher, nil)
	m.Unwatch(id)

	m.watchersMu.Lock()
	_, stillRegistered := m.watchers[id]
	m.watchersMu.Unlock()
	if stillRegistered {
		t.Fatal("expected watcher entry to be removed by Unwatch")
	}
}

func TestManagerRemoveDriverUnknownHomeID(t *testing.T) {
	m := New()
	if err := m.RemoveDriver(0xdeadbeef); err != ErrUnknownNetwork {
		t.Fatalf("RemoveDriver on unknown home id: got %v, want ErrUnknownNetwork", err)
	}
}

func TestManagerDriverLookup(t *testing.T) {
	m := New()
	d, _ := bootDriver(t, 0x66778899, 1)
	insertDriver(m, "/dev/mock5", d.HomeID(), d)
	defer stopDriver(t, d)

	got, ok := m.Driver(d.HomeID())
	if !ok || got != d {
		t.Fatalf("Driver(%x) = %v, %v; want %v, true", d.HomeID(), got, ok, d)
	}

	ids := m.HomeIDs()
	if len(ids) != 1 || ids[0] != d.HomeID() {
		t.Fatalf("HomeIDs() = %v, want [%x]", ids, d.HomeID())
	}
}
