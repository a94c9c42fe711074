package gatt

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"provision-ble/internal/logging"
)

// serviceProperties returns the GattService1 property set. Includes stays
// empty; the provisioning service pulls in no secondary services.
func serviceProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":     dbus.MakeVariant(ServiceUUID),
		"Primary":  dbus.MakeVariant(true),
		"Includes": dbus.MakeVariant([]dbus.ObjectPath{}),
	}
}

type serviceExport struct{}

func (serviceExport) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	props := serviceProperties()
	v, ok := props[prop]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs",
			[]interface{}{fmt.Sprintf("unknown property %q", prop)})
	}
	return v, nil
}

func (serviceExport) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return serviceProperties(), nil
}

func (serviceExport) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly",
		[]interface{}{fmt.Sprintf("property %q is read-only", prop)})
}

// ExportService publishes the primary provisioning service object.
func ExportService(r *Registry) error {
	exp := serviceExport{}
	if err := r.conn.Export(exp, ServicePath, gattServiceIface); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	if err := r.conn.Export(exp, ServicePath, propsIface); err != nil {
		return fmt.Errorf("export service properties: %w", err)
	}
	node := &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: gattServiceIface,
				Properties: []introspect.Property{
					{Name: "UUID", Type: "s", Access: "read"},
					{Name: "Primary", Type: "b", Access: "read"},
					{Name: "Includes", Type: "ao", Access: "read"},
				},
			},
		},
	}
	if err := r.conn.Export(introspect.NewIntrospectable(node), ServicePath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export service introspection: %w", err)
	}

	logging.Infof("Exported GattService1 at %s", ServicePath)
	return nil
}
