package gatt

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"provision-ble/internal/dispatch"
)

func newExportedTree(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(&fakeConn{}, dispatch.New())
	m := NewMachine(reg, &fakeScanner{}, &fakeConnector{})
	for _, export := range []func() error{
		func() error { return ExportService(reg) },
		func() error { return ExportDeviceInfo(reg) },
		func() error { return ExportState(reg, m) },
		func() error { return ExportCommand(reg, m) },
	} {
		if err := export(); err != nil {
			t.Fatalf("export: %v", err)
		}
	}
	return reg
}

func TestManagedObjectsTree(t *testing.T) {
	reg := newExportedTree(t)
	objects := reg.managedObjects()

	if len(objects) != 4 {
		t.Fatalf("got %d objects, want 4 (service + 3 characteristics)", len(objects))
	}

	svc, ok := objects[ServicePath][gattServiceIface]
	if !ok {
		t.Fatalf("service missing at %s", ServicePath)
	}
	if got := svc["UUID"].Value().(string); got != ServiceUUID {
		t.Errorf("service UUID = %q", got)
	}
	if got := svc["Primary"].Value().(bool); !got {
		t.Error("service Primary = false")
	}
	if got := svc["Includes"].Value().([]dbus.ObjectPath); len(got) != 0 {
		t.Errorf("service Includes = %v, want empty", got)
	}

	wantChars := []struct {
		path  dbus.ObjectPath
		uuid  string
		flags []string
	}{
		{CharDeviceInfo, UUIDDeviceInfo, []string{"read"}},
		{CharState, UUIDState, []string{"read", "notify"}},
		{CharCommand, UUIDCommand, []string{"write"}},
	}
	for _, want := range wantChars {
		props, ok := objects[want.path][gattCharIface]
		if !ok {
			t.Errorf("characteristic missing at %s", want.path)
			continue
		}
		if got := props["UUID"].Value().(string); got != want.uuid {
			t.Errorf("%s UUID = %q, want %q", want.path, got, want.uuid)
		}
		if got := props["Service"].Value().(dbus.ObjectPath); got != ServicePath {
			t.Errorf("%s Service = %q", want.path, got)
		}
		flags := props["Flags"].Value().([]string)
		if len(flags) != len(want.flags) {
			t.Errorf("%s Flags = %v, want %v", want.path, flags, want.flags)
			continue
		}
		for i := range flags {
			if flags[i] != want.flags[i] {
				t.Errorf("%s Flags = %v, want %v", want.path, flags, want.flags)
				break
			}
		}
	}
}

func TestDeviceInfoReadIsExactBytes(t *testing.T) {
	reg := newExportedTree(t)

	c := reg.chars[CharDeviceInfo]
	want := `{"Company":"PiDevelop.com","Developer":"james@pidevelop.com","project_name":"Provision BLE"}`
	if got := string(c.Read()); got != want {
		t.Errorf("DeviceInfo read = %q, want %q", got, want)
	}
	// The cache seeded at export must match too.
	if got := string(c.cachedValue()); got != want {
		t.Errorf("DeviceInfo cached value = %q, want %q", got, want)
	}
}
