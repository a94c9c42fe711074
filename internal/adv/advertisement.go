// Package adv exports the org.bluez.LEAdvertisement1 object BlueZ broadcasts
// for the provisioning service, and sets the adapter alias seen by scanners.
package adv

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"provision-ble/internal/gatt"
	"provision-ble/internal/logging"
)

// AdvPath is the exported advertisement object.
const AdvPath = dbus.ObjectPath("/org/bluez/provision/advertisement0")

const (
	advIface   = "org.bluez.LEAdvertisement1"
	propsIface = "org.freedesktop.DBus.Properties"
)

// properties returns the advertisement descriptor: a connectable peripheral
// advertising the provisioning service UUID. Flags are included explicitly;
// most phone scanners ignore advertisements without them.
func properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{gatt.ServiceUUID}),
		"Includes":     dbus.MakeVariant([]string{"tx-power", "local-name"}),
		"Flags":        dbus.MakeVariant([]string{"general-discoverable", "le-only"}),
	}
}

type advExport struct{}

// Release is BlueZ telling us it dropped the advertisement; nothing to free.
func (advExport) Release() *dbus.Error {
	logging.Info("Advertisement released by BlueZ")
	return nil
}

func (advExport) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	props := properties()
	v, ok := props[prop]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs",
			[]interface{}{fmt.Sprintf("unknown property %q", prop)})
	}
	return v, nil
}

func (advExport) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return properties(), nil
}

func (advExport) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly",
		[]interface{}{fmt.Sprintf("property %q is read-only", prop)})
}

// Export publishes the advertisement object for later registration with the
// LE advertising manager.
func Export(conn gatt.Conn) error {
	exp := advExport{}
	if err := conn.Export(exp, AdvPath, advIface); err != nil {
		return fmt.Errorf("export advertisement: %w", err)
	}
	if err := conn.Export(exp, AdvPath, propsIface); err != nil {
		return fmt.Errorf("export advertisement properties: %w", err)
	}
	node := &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    advIface,
				Methods: []introspect.Method{{Name: "Release"}},
				Properties: []introspect.Property{
					{Name: "Type", Type: "s", Access: "read"},
					{Name: "ServiceUUIDs", Type: "as", Access: "read"},
					{Name: "Includes", Type: "as", Access: "read"},
					{Name: "Flags", Type: "as", Access: "read"},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), AdvPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export advertisement introspection: %w", err)
	}

	logging.Info("BLE advertisement exported")
	return nil
}

// SetAlias sets the adapter alias shown during pairing. Failures are logged
// and recovered; the stale alias is cosmetic.
func SetAlias(conn *dbus.Conn, alias string) {
	obj := conn.Object("org.bluez", "/org/bluez/hci0")
	call := obj.Call(propsIface+".Set", 0,
		"org.bluez.Adapter1", "Alias", dbus.MakeVariant(alias))
	if call.Err != nil {
		logging.Infof("Failed to set BLE alias: %v", call.Err)
		return
	}
	logging.Infof("BLE adapter alias set to %q", alias)
}
