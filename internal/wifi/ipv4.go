package wifi

import "provision-ble/internal/logging"

// ConnectedSink receives the association result; the provisioning state
// machine implements it.
type ConnectedSink interface {
	SetConnected(ssid, ip string)
}

// NewIPv4ReadyHandler returns the dispatcher-side handler for ipv4-ready
// events. Each invocation opens a fresh NetworkManager device handle, reads
// the active SSID and first IPv4 address, and publishes CONNECTED when an
// address is present. Repeated events for the same address re-emit the same
// payload.
func NewIPv4ReadyHandler(iface string, sink ConnectedSink) func() {
	open := func() (Device, error) { return openWifiDevice(iface) }
	return newIPv4ReadyHandler(open, sink)
}

func newIPv4ReadyHandler(open func() (Device, error), sink ConnectedSink) func() {
	return func() {
		dev, err := open()
		if err != nil {
			logging.Warnf("ip_monitor: %v", err)
			return
		}

		ssid := dev.ActiveSSID()
		ip := dev.FirstIPv4()
		if ip == "" {
			return
		}

		sink.SetConnected(ssid, ip)
	}
}
