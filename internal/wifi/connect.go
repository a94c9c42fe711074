package wifi

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"provision-ble/internal/dispatch"
	"provision-ble/internal/logging"
)

// Connector builds and activates WPA-PSK profiles on the Wi-Fi interface.
// Activation is fire-and-forget: a nil return means the request was accepted
// and success will be observed later through the IPv4 monitor.
type Connector struct {
	iface string
	loop  *dispatch.Loop
	open  func() (Device, error)
}

func NewConnector(iface string, loop *dispatch.Loop) *Connector {
	return &Connector{
		iface: iface,
		loop:  loop,
		open:  func() (Device, error) { return openWifiDevice(iface) },
	}
}

// Connect submits an add-and-activate request for ssid. An error means the
// request was rejected synchronously (no Wi-Fi device, bus unreachable); the
// caller reverts state. The async activation result is logged only.
func (c *Connector) Connect(ssid, psk string) error {
	logging.Infof("wifi_connect: starting ssid=%s", ssid)

	dev, err := c.open()
	if err != nil {
		return fmt.Errorf("activation rejected: %w", err)
	}

	dev.AddAndActivate(connectionSettings(ssid, psk), func(err error) {
		c.loop.Post(func() {
			if err != nil {
				logging.Errorf("wifi_connect: activation failed: %v", err)
				return
			}
			logging.Info("wifi_connect: activation request accepted")
		})
	})

	return nil
}

// connectionSettings builds the NetworkManager profile: autoconnecting
// infrastructure WPA-PSK with DHCP.
func connectionSettings(ssid, psk string) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(ssid),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(true),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(psk),
		},
		"ipv4": {
			"method": dbus.MakeVariant("auto"),
		},
	}
}
