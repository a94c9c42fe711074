// Package bluez talks to the BlueZ management interfaces: adapter discovery
// plus GATT application and LE advertisement registration.
package bluez

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"provision-ble/internal/dispatch"
)

const (
	bluezBus         = "org.bluez"
	omIface          = "org.freedesktop.DBus.ObjectManager"
	gattManagerIface = "org.bluez.GattManager1"
	advManagerIface  = "org.bluez.LEAdvertisingManager1"
)

// ErrAdapterNotFound means no adapter exposes both the GATT manager and the
// LE advertising manager. Fatal at startup.
var ErrAdapterNotFound = errors.New("no adapter found exposing GattManager1 and LEAdvertisingManager1")

// RegisterCallback receives the outcome of an async registration, exactly
// once, on the dispatcher.
type RegisterCallback func(ok bool, errMsg string)

// FindAdapter walks the BlueZ object tree and returns the first adapter that
// can host both our GATT application and our advertisement.
func FindAdapter(conn *dbus.Conn) (dbus.ObjectPath, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(bluezBus, "/").Call(omIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return "", fmt.Errorf("GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return "", fmt.Errorf("GetManagedObjects decode failed: %w", err)
	}

	for path, ifaces := range objects {
		_, hasGatt := ifaces[gattManagerIface]
		_, hasAdv := ifaces[advManagerIface]
		if hasGatt && hasAdv {
			return path, nil
		}
	}
	return "", ErrAdapterNotFound
}

// RegisterApplicationAsync submits RegisterApplication and delivers the
// result to cb on the loop.
func RegisterApplicationAsync(conn *dbus.Conn, adapter, appPath dbus.ObjectPath, loop *dispatch.Loop, cb RegisterCallback) {
	asyncCall(conn, adapter, gattManagerIface+".RegisterApplication", appPath, loop, cb)
}

// RegisterAdvertisementAsync submits RegisterAdvertisement and delivers the
// result to cb on the loop.
func RegisterAdvertisementAsync(conn *dbus.Conn, adapter, advPath dbus.ObjectPath, loop *dispatch.Loop, cb RegisterCallback) {
	asyncCall(conn, adapter, advManagerIface+".RegisterAdvertisement", advPath, loop, cb)
}

func asyncCall(conn *dbus.Conn, adapter dbus.ObjectPath, method string, arg dbus.ObjectPath, loop *dispatch.Loop, cb RegisterCallback) {
	obj := conn.Object(bluezBus, adapter)
	ch := make(chan *dbus.Call, 1)
	obj.Go(method, 0, ch, arg, map[string]dbus.Variant{})

	go func() {
		call := <-ch
		loop.Post(func() {
			if call.Err != nil {
				cb(false, call.Err.Error())
				return
			}
			cb(true, "")
		})
	}()
}
