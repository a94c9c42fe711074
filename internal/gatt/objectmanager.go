package gatt

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"provision-ble/internal/logging"
)

// managedObjects builds the fixed application tree BlueZ consumes during
// RegisterApplication: the service plus every exported characteristic. The
// set never changes after startup; InterfacesAdded/Removed are not emitted.
func (r *Registry) managedObjects() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		ServicePath: {gattServiceIface: serviceProperties()},
	}
	for path, c := range r.chars {
		objects[path] = map[string]map[string]dbus.Variant{
			gattCharIface: c.properties(),
		}
	}
	return objects
}

type appExport struct {
	r *Registry
}

func (a *appExport) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	logging.Info("ObjectManager.GetManagedObjects called")
	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	a.r.loop.Call(func() {
		out = a.r.managedObjects()
	})
	return out, nil
}

// ExportApplication publishes the ObjectManager root. The tree is built from
// the registry on each GetManagedObjects call, so characteristics exported
// after the root still appear in it.
func ExportApplication(r *Registry) error {
	exp := &appExport{r: r}
	if err := r.conn.Export(exp, AppPath, omIface); err != nil {
		return fmt.Errorf("export object manager: %w", err)
	}
	node := &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: omIface,
				Methods: []introspect.Method{
					{Name: "GetManagedObjects", Args: []introspect.Arg{
						{Name: "objects", Type: "a{oa{sa{sv}}}", Direction: "out"},
					}},
				},
			},
		},
	}
	if err := r.conn.Export(introspect.NewIntrospectable(node), AppPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export object manager introspection: %w", err)
	}

	logging.Infof("Exported ObjectManager at %s", AppPath)
	return nil
}
