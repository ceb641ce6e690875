package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nbtools/wugsync/internal/netbox"
	"github.com/nbtools/wugsync/internal/wug"
)

// fakeRegistry is an in-memory RegistryClient.
type fakeRegistry struct {
	mu      stdsync.Mutex
	nextID  int
	devices map[int]*netbox.NBDevice

	sites, mfrs, types, roles map[string]int

	createErrFor map[string]error
	creates      int
	updates      int
	primaryIPs   map[int]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		nextID:       100,
		devices:      make(map[int]*netbox.NBDevice),
		sites:        make(map[string]int),
		mfrs:         make(map[string]int),
		types:        make(map[string]int),
		roles:        make(map[string]int),
		createErrFor: make(map[string]error),
		primaryIPs:   make(map[int]string),
	}
}

func (f *fakeRegistry) addDevice(name, status, address string) *netbox.NBDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	d := &netbox.NBDevice{
		ID:     f.nextID,
		Name:   name,
		Status: &netbox.NBStatusValue{Value: status},
	}
	if address != "" {
		d.PrimaryIP4 = &netbox.NBIPAddress{ID: f.nextID, Address: address + "/32"}
	}
	f.devices[d.ID] = d
	return d
}

func (f *fakeRegistry) ListDevices(ctx context.Context, filter netbox.DeviceFilter) ([]netbox.NBDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []netbox.NBDevice
	for _, d := range f.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeRegistry) GetDevice(ctx context.Context, id int) (*netbox.NBDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, &netbox.APIError{StatusCode: 404, Body: "not found"}
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRegistry) FindDeviceByName(ctx context.Context, name string) (*netbox.NBDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.Name == name {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) CreateDevice(ctx context.Context, req netbox.NBDeviceCreateRequest) (*netbox.NBDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErrFor[req.Name]; err != nil {
		return nil, err
	}
	f.creates++
	f.nextID++
	d := &netbox.NBDevice{
		ID:           f.nextID,
		Name:         req.Name,
		Status:       &netbox.NBStatusValue{Value: req.Status},
		Comments:     req.Comments,
		CustomFields: req.CustomFields,
	}
	f.devices[d.ID] = d
	return d, nil
}

func (f *fakeRegistry) UpdateDevice(ctx context.Context, id int, req netbox.NBDeviceCreateRequest) (*netbox.NBDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, &netbox.APIError{StatusCode: 404, Body: "not found"}
	}
	f.updates++
	if req.Name != "" {
		d.Name = req.Name
	}
	if req.Status != "" {
		d.Status = &netbox.NBStatusValue{Value: req.Status}
	}
	if req.Comments != "" {
		d.Comments = req.Comments
	}
	cp := *d
	return &cp, nil
}

func ensureID(m map[string]int, key string, next *int) int {
	if id, ok := m[key]; ok {
		return id
	}
	*next++
	m[key] = *next
	return *next
}

func (f *fakeRegistry) EnsureSite(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ensureID(f.sites, name, &f.nextID), nil
}

func (f *fakeRegistry) EnsureManufacturer(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ensureID(f.mfrs, name, &f.nextID), nil
}

func (f *fakeRegistry) EnsureDeviceType(ctx context.Context, manufacturerID int, model string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ensureID(f.types, fmt.Sprintf("%d/%s", manufacturerID, model), &f.nextID), nil
}

func (f *fakeRegistry) EnsureDeviceRole(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ensureID(f.roles, name, &f.nextID), nil
}

func (f *fakeRegistry) CreatePrimaryIP(ctx context.Context, deviceID int, address string) (*netbox.NBIPAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primaryIPs[deviceID] = address
	if d, ok := f.devices[deviceID]; ok {
		d.PrimaryIP4 = &netbox.NBIPAddress{ID: deviceID, Address: address + "/32"}
	}
	return &netbox.NBIPAddress{ID: deviceID, Address: address + "/32"}, nil
}

// fakeRemote is an in-memory RemoteClient.
type fakeRemote struct {
	mu      stdsync.Mutex
	devices []wug.Device
	listErr error
	lists   int

	nextID    int
	createErr error
	created   []wug.DeviceConfig

	deleted  []string
	metadata map[string]wug.Metadata

	scanErr   error
	scans     []string
	scanState map[string]wug.ScanStatus
}

func newFakeRemote(devices ...wug.Device) *fakeRemote {
	return &fakeRemote{
		devices:   devices,
		nextID:    500,
		metadata:  make(map[string]wug.Metadata),
		scanState: make(map[string]wug.ScanStatus),
	}
}

func (f *fakeRemote) ListDevices(ctx context.Context) ([]wug.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]wug.Device, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeRemote) GetDevice(ctx context.Context, id string) (wug.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return wug.Device{}, &wug.APIError{StatusCode: 404, Body: "not found"}
}

func (f *fakeRemote) CreateDevice(ctx context.Context, cfg wug.DeviceConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("W%d", f.nextID)
	f.created = append(f.created, cfg)
	f.devices = append(f.devices, wug.Device{ID: id, Name: cfg.Name, Address: cfg.Address, Status: "Up"})
	return id, nil
}

func (f *fakeRemote) UpdateDeviceMetadata(ctx context.Context, id string, md wug.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[id] = md
	return nil
}

func (f *fakeRemote) DeleteDevice(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for i, d := range f.devices {
		if d.ID == id {
			f.devices = append(f.devices[:i], f.devices[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRemote) ScanAddress(ctx context.Context, address string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return "", f.scanErr
	}
	id := fmt.Sprintf("scan-%d", len(f.scans)+1)
	f.scans = append(f.scans, address)
	f.scanState[id] = wug.ScanStatus{ScanID: id, State: wug.ScanRunning}
	return id, nil
}

func (f *fakeRemote) GetScanStatus(ctx context.Context, scanID string) (wug.ScanStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.scanState[scanID]
	if !ok {
		return wug.ScanStatus{}, &wug.APIError{StatusCode: 404, Body: "unknown scan"}
	}
	return st, nil
}

func (f *fakeRemote) TestConnection(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return 0, f.listErr
	}
	return len(f.devices), nil
}

// stubPinger reports a fixed reachability result.
type stubPinger struct{ up bool }

func (p stubPinger) Reachable(ctx context.Context, address string, timeout time.Duration) bool {
	return p.up
}

func testEngine(t *testing.T, reg *fakeRegistry, rem *fakeRemote) (*Engine, *Store, *Connection) {
	t.Helper()
	s := testStore(t)
	conn := mustInsertConnection(t, s)
	eng := NewEngine(s, reg,
		func(*Connection) RemoteClient { return rem },
		stubPinger{up: true}, DefaultConfig(), zap.NewNop())
	return eng, s, conn
}

func TestImportPass_CreatesDevice(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{
		ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up",
		Vendor: "Cisco", Model: "C9300", Location: "DC East",
	})
	eng, s, conn := testEngine(t, reg, rem)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if log.Created != 1 || log.Failed != 0 {
		t.Fatalf("log = %+v", log)
	}

	dev, _ := reg.FindDeviceByName(context.Background(), "core-sw-01")
	if dev == nil {
		t.Fatal("registry device not created")
	}
	if dev.Status.Value != "active" {
		t.Errorf("status = %q", dev.Status.Value)
	}
	if reg.primaryIPs[dev.ID] != "10.0.0.1" {
		t.Errorf("primary IP = %q", reg.primaryIPs[dev.ID])
	}
	if _, ok := reg.sites["DC East"]; !ok {
		t.Error("site not ensured from remote location")
	}

	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	if link == nil || link.RegistryID == nil || *link.RegistryID != dev.ID {
		t.Fatalf("link = %+v", link)
	}

	got, _ := s.GetConnection(context.Background(), conn.ID)
	if got.LastSync == nil {
		t.Error("last_sync not updated")
	}
}

func TestImportPass_SecondPassUnchanged(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"})
	eng, _, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Unchanged != 1 || log.Created != 0 || log.Updated != 0 {
		t.Errorf("second pass log = %+v", log)
	}
	if reg.creates != 1 {
		t.Errorf("creates = %d, want 1", reg.creates)
	}
}

func TestImportPass_NameCollisionIsSkipped(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(
		wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"},
		wug.Device{ID: "R2", Name: "core-sw-01", Address: "10.0.0.2", Status: "Up"},
	)
	eng, s, conn := testEngine(t, reg, rem)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if log.Created != 1 || log.Skipped != 1 {
		t.Fatalf("log = %+v", log)
	}
	if !strings.Contains(log.Detail, "name collision") {
		t.Errorf("detail does not record the conflict: %q", log.Detail)
	}
	if link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R2"); link != nil {
		t.Errorf("collision device was linked: %+v", link)
	}
	if reg.creates != 1 {
		t.Errorf("creates = %d, want 1", reg.creates)
	}
}

func TestImportPass_UnlinkedSameNameIsCollision(t *testing.T) {
	reg := newFakeRegistry()
	reg.addDevice("core-sw-01", "active", "192.168.1.1")
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"})
	eng, s, conn := testEngine(t, reg, rem)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if log.Skipped != 1 || log.Created != 0 {
		t.Errorf("log = %+v", log)
	}
	if link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1"); link != nil {
		t.Errorf("collision device was linked: %+v", link)
	}
}

func TestImportPass_PartialFailureIsolation(t *testing.T) {
	reg := newFakeRegistry()
	reg.createErrFor["bad-device"] = errors.New("create rejected")
	rem := newFakeRemote(
		wug.Device{ID: "R1", Name: "sw-a", Address: "10.0.0.1", Status: "Up"},
		wug.Device{ID: "R2", Name: "bad-device", Address: "10.0.0.2", Status: "Up"},
		wug.Device{ID: "R3", Name: "sw-c", Address: "10.0.0.3", Status: "Up"},
	)
	eng, _, conn := testEngine(t, reg, rem)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if log.Created != 2 || log.Failed != 1 {
		t.Fatalf("log = %+v", log)
	}
	if log.Status != LogCompleted {
		t.Errorf("status = %q", log.Status)
	}
}

func TestImportPass_FailureNotesCarryErrorKind(t *testing.T) {
	reg := newFakeRegistry()
	reg.createErrFor["rejected"] = &netbox.APIError{StatusCode: 400, Body: "invalid device"}
	reg.createErrFor["flaky"] = &netbox.APIError{StatusCode: 503, Body: "maintenance"}
	rem := newFakeRemote(
		wug.Device{ID: "R1", Name: "rejected", Address: "10.0.0.1", Status: "Up"},
		wug.Device{ID: "R2", Name: "flaky", Address: "10.0.0.2", Status: "Up"},
	)
	eng, _, conn := testEngine(t, reg, rem)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if log.Failed != 2 {
		t.Fatalf("log = %+v", log)
	}
	if !strings.Contains(log.Detail, "[fatal]") {
		t.Errorf("detail missing fatal kind: %q", log.Detail)
	}
	if !strings.Contains(log.Detail, "[transient]") {
		t.Errorf("detail missing transient kind: %q", log.Detail)
	}
}

func TestImportPass_OperatorStatusChangeRemovesRemote(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	reg.devices[*link.RegistryID].Status = &netbox.NBStatusValue{Value: "decommissioning"}

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Updated != 1 {
		t.Errorf("log = %+v", log)
	}
	if !strings.Contains(log.Detail, "removed remote device R1") {
		t.Errorf("detail does not record the removal: %q", log.Detail)
	}
	if len(rem.deleted) != 1 || rem.deleted[0] != "R1" {
		t.Errorf("deleted = %v", rem.deleted)
	}
	if link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1"); link != nil {
		t.Errorf("link survived removal: %+v", link)
	}
}

func TestImportPass_RecoveredDeviceIsNotRemoved(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Down"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	if got := reg.devices[*link.RegistryID].Status.Value; got != "failed" {
		t.Fatalf("imported status = %q", got)
	}

	// The device comes back up. The registry still says failed, but that
	// status was engine-written, not an operator's.
	rem.mu.Lock()
	rem.devices[0].Status = "Up"
	rem.mu.Unlock()

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Updated != 1 || log.Failed != 0 {
		t.Errorf("log = %+v", log)
	}
	if len(rem.deleted) != 0 {
		t.Fatalf("recovered device was deleted from the monitor: %v", rem.deleted)
	}
	if link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1"); link == nil {
		t.Fatal("link deleted")
	}
	if got := reg.devices[*link.RegistryID].Status.Value; got != "active" {
		t.Errorf("registry status after recovery = %q", got)
	}
}

func TestImportPass_DownDeviceIsNotRemoved(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Down"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Unchanged != 1 {
		t.Errorf("log = %+v", log)
	}
	if len(rem.deleted) != 0 {
		t.Errorf("down device removed from monitor: %v", rem.deleted)
	}
	if link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1"); link == nil {
		t.Error("link deleted")
	}
}

func TestImportPass_AddressChangeUpdatesPrimaryIP(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	rem.mu.Lock()
	rem.devices[0].Address = "10.0.0.9"
	rem.mu.Unlock()

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Updated != 1 {
		t.Fatalf("log = %+v", log)
	}
	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	if link.Address != "10.0.0.9" {
		t.Errorf("link address = %q", link.Address)
	}
	if got := reg.primaryIPs[*link.RegistryID]; got != "10.0.0.9" {
		t.Errorf("primary IP = %q, want readdressed", got)
	}

	// Third pass: nothing changed, the new address must not be rewritten.
	log, err = eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if log.Unchanged != 1 {
		t.Errorf("third pass log = %+v", log)
	}
}

func TestImportPass_LateAddressGetsPrimaryIP(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Status: "Up"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	if _, ok := reg.primaryIPs[*link.RegistryID]; ok {
		t.Fatal("primary IP assigned without an address")
	}

	rem.mu.Lock()
	rem.devices[0].Address = "10.0.0.5"
	rem.mu.Unlock()

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Updated != 1 {
		t.Fatalf("log = %+v", log)
	}
	if got := reg.primaryIPs[*link.RegistryID]; got != "10.0.0.5" {
		t.Errorf("primary IP = %q", got)
	}
}

func TestImportPass_DisabledLinkIsSkipped(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	if err := s.SetLinkEnabled(context.Background(), link.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Skipped != 1 || log.Updated != 0 || log.Unchanged != 0 {
		t.Errorf("log = %+v", log)
	}
}

func TestImportPass_RecreatesVanishedRegistryDevice(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	oldID := *link.RegistryID
	delete(reg.devices, oldID)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if log.Created != 1 {
		t.Errorf("log = %+v", log)
	}
	relinked, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")
	if relinked == nil || relinked.RegistryID == nil || *relinked.RegistryID == oldID {
		t.Errorf("link not rebound: %+v", relinked)
	}
}

func TestImportPass_ListFailureFailsPass(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote()
	rem.listErr = &wug.APIError{StatusCode: 503, Body: "unavailable"}
	eng, _, conn := testEngine(t, reg, rem)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerScheduled, "")
	if err == nil {
		t.Fatal("pass succeeded despite list failure")
	}
	if log.Status != LogFailed {
		t.Errorf("log status = %q", log.Status)
	}
}

func TestImportPass_CancellationRecordsCancelledLog(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(
		wug.Device{ID: "R1", Name: "sw-a", Address: "10.0.0.1", Status: "Up"},
		wug.Device{ID: "R2", Name: "sw-b", Address: "10.0.0.2", Status: "Up"},
	)
	eng, s, conn := testEngine(t, reg, rem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log, err := eng.RunImportPass(ctx, conn, TriggerManual, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if log.Status != LogCancelled {
		t.Errorf("log status = %q", log.Status)
	}
	latest, _ := s.LatestLog(context.Background(), conn.ID)
	if latest == nil || latest.Status != LogCancelled {
		t.Errorf("persisted log = %+v", latest)
	}
}

func TestImportPass_SingleDeviceScope(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(
		wug.Device{ID: "R1", Name: "sw-a", Address: "10.0.0.1", Status: "Up"},
		wug.Device{ID: "R2", Name: "sw-b", Address: "10.0.0.2", Status: "Up"},
	)
	eng, s, conn := testEngine(t, reg, rem)

	log, err := eng.RunImportPass(context.Background(), conn, TriggerManual, "R2")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if log.Created != 1 {
		t.Errorf("log = %+v", log)
	}
	if link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1"); link != nil {
		t.Error("out-of-scope device was processed")
	}
}

func TestDedupeName(t *testing.T) {
	used := make(map[string]string)
	if got, _ := dedupeName("sw", "R1", used); got != "sw" {
		t.Errorf("first = %q", got)
	}
	if got, _ := dedupeName("sw", "R1", used); got != "sw" {
		t.Errorf("same owner = %q", got)
	}
	if got, _ := dedupeName("sw", "R2", used); got != "sw-2" {
		t.Errorf("second owner = %q", got)
	}
	if got, _ := dedupeName("sw", "R3", used); got != "sw-3" {
		t.Errorf("third owner = %q", got)
	}
}

func TestRemoveLinkedDevice(t *testing.T) {
	reg := newFakeRegistry()
	rem := newFakeRemote(wug.Device{ID: "R1", Name: "core-sw-01", Address: "10.0.0.1", Status: "Up"})
	eng, s, conn := testEngine(t, reg, rem)

	if _, err := eng.RunImportPass(context.Background(), conn, TriggerManual, ""); err != nil {
		t.Fatalf("pass: %v", err)
	}
	link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1")

	if err := eng.RemoveLinkedDevice(context.Background(), conn, *link.RegistryID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(rem.deleted) != 1 {
		t.Errorf("deleted = %v", rem.deleted)
	}
	if link, _ := s.GetLinkByRemote(context.Background(), conn.ID, "R1"); link != nil {
		t.Error("link survived")
	}

	// Unknown registry devices are a no-op.
	if err := eng.RemoveLinkedDevice(context.Background(), conn, 424242); err != nil {
		t.Errorf("no-op removal: %v", err)
	}
}
