// Package gatt exports the provisioning GATT application over the system bus:
// an ObjectManager root, one primary service, and three characteristics
// (DeviceInfo read; State read+notify; Command write). BlueZ walks this tree
// via GetManagedObjects when the application is registered, and converts
// PropertiesChanged emissions on a characteristic's Value into ATT
// notifications toward the central.
package gatt

import "github.com/godbus/dbus/v5"

// Frozen provisioning service and characteristic UUIDs.
const (
	ServiceUUID    = "9a7d0000-7c2a-4f8e-9b32-9b3e6d4a0001"
	UUIDDeviceInfo = "9a7d0000-7c2a-4f8e-9b32-9b3e6d4a0002"
	UUIDState      = "9a7d0000-7c2a-4f8e-9b32-9b3e6d4a0003"
	UUIDCommand    = "9a7d0000-7c2a-4f8e-9b32-9b3e6d4a0004"
)

// Exported object tree. BlueZ expects an ObjectManager at AppPath with the
// service and characteristics below it.
const (
	AppPath        = dbus.ObjectPath("/org/bluez/provision")
	ServicePath    = dbus.ObjectPath("/org/bluez/provision/service0")
	CharDeviceInfo = dbus.ObjectPath("/org/bluez/provision/char0")
	CharState      = dbus.ObjectPath("/org/bluez/provision/char1")
	CharCommand    = dbus.ObjectPath("/org/bluez/provision/char2")
)

// D-Bus interface names.
const (
	gattServiceIface = "org.bluez.GattService1"
	gattCharIface    = "org.bluez.GattCharacteristic1"
	propsIface       = "org.freedesktop.DBus.Properties"
	omIface          = "org.freedesktop.DBus.ObjectManager"

	errNotSupported = "org.bluez.Error.NotSupported"
)
