package gatt

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"provision-ble/internal/dispatch"
	"provision-ble/internal/logging"
)

// Conn is the slice of *dbus.Conn the GATT tree needs: object export and
// signal emission. Tests substitute a recorder.
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Characteristic holds the identity, callbacks, and runtime state of one
// exported GATT characteristic. The notifying flag and cached value are owned
// by the dispatcher; nothing else touches them.
type Characteristic struct {
	UUID        string
	Path        dbus.ObjectPath
	ServicePath dbus.ObjectPath
	Flags       []string

	// Optional callbacks, invoked on the dispatcher.
	Read     func() []byte
	Write    func(value []byte)
	OnNotify func(enabled bool)

	notifying bool
	value     []byte
}

// properties returns the GattCharacteristic1 property set as seen by BlueZ
// through GetManagedObjects.
func (c *Characteristic) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":        dbus.MakeVariant(c.UUID),
		"Service":     dbus.MakeVariant(c.ServicePath),
		"Flags":       dbus.MakeVariant(c.Flags),
		"Descriptors": dbus.MakeVariant([]dbus.ObjectPath{}),
	}
}

// cachedValue returns the last notified value, or an empty byte sequence if
// nothing has been cached yet.
func (c *Characteristic) cachedValue() []byte {
	if c.value == nil {
		return []byte{}
	}
	return c.value
}

// Registry owns the exported characteristics, keyed by object path. All
// mutation happens on the dispatcher loop.
type Registry struct {
	conn  Conn
	loop  *dispatch.Loop
	chars map[dbus.ObjectPath]*Characteristic
}

func NewRegistry(conn Conn, loop *dispatch.Loop) *Registry {
	return &Registry{
		conn:  conn,
		loop:  loop,
		chars: make(map[dbus.ObjectPath]*Characteristic),
	}
}

// Loop exposes the dispatcher so callers outside the loop can serialize onto
// it.
func (r *Registry) Loop() *dispatch.Loop { return r.loop }

// Export publishes c on the bus under its object path and records it for
// notification lookup. If a read callback exists the cached value is seeded
// from it so property reads are sensible before the first notify.
func (r *Registry) Export(c *Characteristic) error {
	if c.Read != nil {
		c.value = c.Read()
	}

	exp := &charExport{c: c, r: r}
	if err := r.conn.Export(exp, c.Path, gattCharIface); err != nil {
		return fmt.Errorf("export characteristic %s: %w", c.Path, err)
	}
	if err := r.conn.Export(exp, c.Path, propsIface); err != nil {
		return fmt.Errorf("export characteristic properties %s: %w", c.Path, err)
	}
	if err := r.conn.Export(introspect.NewIntrospectable(charNode()), c.Path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export characteristic introspection %s: %w", c.Path, err)
	}

	r.chars[c.Path] = c
	return nil
}

// NotifyValue replaces the cached value of the characteristic at path and
// emits the PropertiesChanged signal BlueZ turns into an ATT notification.
// Must run on the dispatcher. Unknown paths log a warning and no-op; a
// characteristic without an active subscription no-ops.
func (r *Registry) NotifyValue(path dbus.ObjectPath, value []byte) {
	c, ok := r.chars[path]
	if !ok {
		logging.Warnf("notify: characteristic not found for %s", path)
		return
	}
	if !c.notifying {
		logging.Infof("notify: skipped (not notifying) for %s", path)
		return
	}

	c.value = append([]byte(nil), value...)

	logging.Infof("notify: emitting Value change for %s", path)
	err := r.conn.Emit(path, propsIface+".PropertiesChanged",
		gattCharIface,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(c.value)},
		[]string{})
	if err != nil {
		logging.Errorf("notify: emit failed for %s: %v", path, err)
	}
}

// charExport is the D-Bus facing wrapper. godbus invokes these methods on its
// own goroutines; each one serializes onto the dispatcher before touching
// characteristic state.
type charExport struct {
	c *Characteristic
	r *Registry
}

func (x *charExport) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	var out []byte
	var derr *dbus.Error
	x.r.loop.Call(func() {
		if x.c.Read == nil {
			derr = dbus.NewError(errNotSupported, nil)
			return
		}
		out = x.c.Read()
	})
	return out, derr
}

func (x *charExport) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	var derr *dbus.Error
	x.r.loop.Call(func() {
		if x.c.Write == nil {
			derr = dbus.NewError(errNotSupported, nil)
			return
		}
		x.c.Write(value)
	})
	return derr
}

func (x *charExport) StartNotify() *dbus.Error {
	x.r.loop.Call(func() {
		x.c.notifying = true
		if x.c.OnNotify != nil {
			x.c.OnNotify(true)
		}
	})
	return nil
}

func (x *charExport) StopNotify() *dbus.Error {
	x.r.loop.Call(func() {
		x.c.notifying = false
		if x.c.OnNotify != nil {
			x.c.OnNotify(false)
		}
	})
	return nil
}

// Properties interface. BlueZ reads these while building its view of the
// application; Value returns the notification cache.
func (x *charExport) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	var out dbus.Variant
	var derr *dbus.Error
	x.r.loop.Call(func() {
		switch prop {
		case "UUID":
			out = dbus.MakeVariant(x.c.UUID)
		case "Service":
			out = dbus.MakeVariant(x.c.ServicePath)
		case "Flags":
			out = dbus.MakeVariant(x.c.Flags)
		case "Value":
			out = dbus.MakeVariant(x.c.cachedValue())
		default:
			derr = dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs",
				[]interface{}{fmt.Sprintf("unknown property %q", prop)})
		}
	})
	return out, derr
}

func (x *charExport) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	var out map[string]dbus.Variant
	x.r.loop.Call(func() {
		out = x.c.properties()
		out["Value"] = dbus.MakeVariant(x.c.cachedValue())
	})
	return out, nil
}

func (x *charExport) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly",
		[]interface{}{fmt.Sprintf("property %q is read-only", prop)})
}

func charNode() *introspect.Node {
	return &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: gattCharIface,
				Methods: []introspect.Method{
					{Name: "ReadValue", Args: []introspect.Arg{
						{Name: "options", Type: "a{sv}", Direction: "in"},
						{Name: "value", Type: "ay", Direction: "out"},
					}},
					{Name: "WriteValue", Args: []introspect.Arg{
						{Name: "value", Type: "ay", Direction: "in"},
						{Name: "options", Type: "a{sv}", Direction: "in"},
					}},
					{Name: "StartNotify"},
					{Name: "StopNotify"},
				},
				Properties: []introspect.Property{
					{Name: "UUID", Type: "s", Access: "read"},
					{Name: "Service", Type: "o", Access: "read"},
					{Name: "Flags", Type: "as", Access: "read"},
					{Name: "Value", Type: "ay", Access: "read"},
				},
			},
		},
	}
}
