// Package wifi drives the Wi-Fi side of provisioning through NetworkManager's
// D-Bus API: one-shot SSID scans, WPA-PSK activation, and the netlink monitor
// that reports when the interface obtains an IPv4 address.
package wifi

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	nmBus           = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface         = "org.freedesktop.NetworkManager"
	nmDeviceIface   = nmIface + ".Device"
	nmWirelessIface = nmIface + ".Device.Wireless"
	nmAPIface       = nmIface + ".AccessPoint"
	nmIP4Iface      = nmIface + ".IP4Config"

	// NM_DEVICE_TYPE_WIFI
	nmDeviceTypeWifi = uint32(2)
)

// AccessPoint is one access point visible to the Wi-Fi device.
type AccessPoint struct {
	SSID     string
	Strength int
}

// Device is the slice of a NetworkManager Wi-Fi device the provisioning
// flows consume. A fresh device handle is opened per operation; tests
// substitute fakes.
type Device interface {
	RequestScan() error
	AccessPoints() ([]AccessPoint, error)
	ActiveSSID() string
	FirstIPv4() string
	AddAndActivate(settings map[string]map[string]dbus.Variant, done func(err error))
}

type nmDevice struct {
	conn *dbus.Conn
	path dbus.ObjectPath
}

// openWifiDevice resolves iface to a NetworkManager Wi-Fi device. The system
// bus connection is the shared cached one; it is never closed here.
func openWifiDevice(iface string) (Device, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}

	var devPath dbus.ObjectPath
	call := conn.Object(nmBus, nmPath).Call(nmIface+".GetDeviceByIpIface", 0, iface)
	if call.Err != nil {
		return nil, fmt.Errorf("no device for %s: %w", iface, call.Err)
	}
	if err := call.Store(&devPath); err != nil {
		return nil, fmt.Errorf("device path decode: %w", err)
	}

	devType, err := getProperty[uint32](conn, devPath, nmDeviceIface, "DeviceType")
	if err != nil {
		return nil, fmt.Errorf("device type for %s: %w", iface, err)
	}
	if devType != nmDeviceTypeWifi {
		return nil, fmt.Errorf("%s is not a Wi-Fi device (type %d)", iface, devType)
	}

	return &nmDevice{conn: conn, path: devPath}, nil
}

func (d *nmDevice) RequestScan() error {
	call := d.conn.Object(nmBus, d.path).Call(nmWirelessIface+".RequestScan", 0,
		map[string]dbus.Variant{})
	return call.Err
}

func (d *nmDevice) AccessPoints() ([]AccessPoint, error) {
	paths, err := getProperty[[]dbus.ObjectPath](d.conn, d.path, nmWirelessIface, "AccessPoints")
	if err != nil {
		return nil, err
	}

	var aps []AccessPoint
	for _, p := range paths {
		ssid, err := getProperty[[]byte](d.conn, p, nmAPIface, "Ssid")
		if err != nil {
			continue
		}
		strength, err := getProperty[byte](d.conn, p, nmAPIface, "Strength")
		if err != nil {
			continue
		}
		aps = append(aps, AccessPoint{SSID: string(ssid), Strength: int(strength)})
	}
	return aps, nil
}

// ActiveSSID returns the SSID of the active access point, or "unknown" when
// none is resolvable.
func (d *nmDevice) ActiveSSID() string {
	apPath, err := getProperty[dbus.ObjectPath](d.conn, d.path, nmWirelessIface, "ActiveAccessPoint")
	if err != nil || apPath == "/" || apPath == "" {
		return "unknown"
	}
	ssid, err := getProperty[[]byte](d.conn, apPath, nmAPIface, "Ssid")
	if err != nil || len(ssid) == 0 {
		return "unknown"
	}
	return string(ssid)
}

// FirstIPv4 returns the device's first IPv4 address in string form, or "".
func (d *nmDevice) FirstIPv4() string {
	cfgPath, err := getProperty[dbus.ObjectPath](d.conn, d.path, nmDeviceIface, "Ip4Config")
	if err != nil || cfgPath == "/" || cfgPath == "" {
		return ""
	}
	addrs, err := getProperty[[]map[string]dbus.Variant](d.conn, cfgPath, nmIP4Iface, "AddressData")
	if err != nil || len(addrs) == 0 {
		return ""
	}
	addr, ok := addrs[0]["address"].Value().(string)
	if !ok {
		return ""
	}
	return addr
}

// AddAndActivate submits AddAndActivateConnection without blocking. done is
// invoked once with the call result on a background goroutine.
func (d *nmDevice) AddAndActivate(settings map[string]map[string]dbus.Variant, done func(err error)) {
	obj := d.conn.Object(nmBus, nmPath)
	ch := make(chan *dbus.Call, 1)
	obj.Go(nmIface+".AddAndActivateConnection", 0, ch,
		settings, d.path, dbus.ObjectPath("/"))

	go func() {
		call := <-ch
		done(call.Err)
	}()
}

func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(nmBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}
