package gatt

import (
	"strings"

	"provision-ble/internal/logging"
)

// State is the provisioning state surfaced to the central.
type State string

const (
	StateUnconfigured State = "UNCONFIGURED"
	StateScanning     State = "SCANNING"
	StateScanComplete State = "SCAN_COMPLETE"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

// Conservative single-chunk notification limit. SSID lists are truncated to
// fit; entries are never split across notifications.
const maxNotifyBytes = 200

// Scanner enumerates nearby SSIDs, strongest first. A scan already in flight
// returns an empty list.
type Scanner interface {
	ScanSSIDs() []string
}

// Connector submits a Wi-Fi activation request. A nil error means the request
// was accepted; success is observed later via the IPv4 monitor.
type Connector interface {
	Connect(ssid, psk string) error
}

// Machine is the provisioning state machine. It runs exclusively on the
// dispatcher; external threads reach it by posting events onto the loop.
type Machine struct {
	reg       *Registry
	scanner   Scanner
	connector Connector

	// probe re-checks whether wlan0 already holds an IPv4 address; wired to
	// the ipv4-ready handler so a late subscriber on an already-provisioned
	// device hears CONNECTED without issuing a command.
	probe func()

	state    State
	lastSSID string
	lastIP   string
}

func NewMachine(reg *Registry, scanner Scanner, connector Connector) *Machine {
	return &Machine{
		reg:       reg,
		scanner:   scanner,
		connector: connector,
		state:     StateUnconfigured,
	}
}

// SetProbe installs the ipv4-ready recheck used on StartNotify.
func (m *Machine) SetProbe(fn func()) { m.probe = fn }

// State returns the current state. Dispatcher only.
func (m *Machine) State() State { return m.state }

// Snapshot returns state plus the last connected SSID/IP, serialized through
// the dispatcher so it is safe from any goroutine.
func (m *Machine) Snapshot() (state State, ssid, ip string) {
	m.reg.Loop().Call(func() {
		state, ssid, ip = m.state, m.lastSSID, m.lastIP
	})
	return
}

func (m *Machine) setState(s State) {
	m.state = s
	m.reg.NotifyValue(CharState, statePayload(s))
}

// HandleScanRequest drives the scan flow: SCANNING, the SSID list payload,
// then SCAN_COMPLETE, in that order on the notification stream.
func (m *Machine) HandleScanRequest() {
	logging.Info("wifi_scan: request received")

	m.setState(StateScanning)

	ssids := m.scanner.ScanSSIDs()
	logging.Infof("wifi_scan: completed, ssid_count=%d", len(ssids))

	payload := buildScanPayload(ssids)
	logging.Info("wifi_scan: notifying SSID payload")
	m.reg.NotifyValue(CharState, payload)

	m.setState(StateScanComplete)
}

// HandleConnectRequest submits an activation request. A synchronous rejection
// reverts to UNCONFIGURED; otherwise the state stays CONNECTING until the
// IPv4 monitor reports an address.
func (m *Machine) HandleConnectRequest(ssid, psk string) {
	logging.Info("wifi_connect: request received")

	m.setState(StateConnecting)

	if err := m.connector.Connect(ssid, psk); err != nil {
		logging.Errorf("wifi_connect: %v", err)
		m.setState(StateUnconfigured)
	}
}

// SetConnected records the association result and publishes the connected
// payload. Repeated calls for the same (ssid, ip) re-emit identical bytes.
func (m *Machine) SetConnected(ssid, ip string) {
	logging.Infof("wifi connected ssid=%s ip=%s", ssid, ip)

	m.state = StateConnected
	m.lastSSID, m.lastIP = ssid, ip
	m.reg.NotifyValue(CharState, connectedPayload(ssid, ip))
}

func (m *Machine) handleReadState() []byte {
	logging.Info("State ReadValue")
	return statePayload(m.state)
}

func (m *Machine) handleNotifyState(enabled bool) {
	if !enabled {
		logging.Info("State notify DISABLED by client")
		return
	}
	logging.Info("State notify ENABLED by client")

	// A subscriber arriving after association must hear the truth without
	// issuing a command. If we already know we are connected, replay the
	// payload; otherwise recheck the interface, which no-ops when no IPv4
	// address is present.
	if m.state == StateConnected {
		m.reg.NotifyValue(CharState, connectedPayload(m.lastSSID, m.lastIP))
		return
	}
	if m.probe != nil {
		m.probe()
	}
}

// ExportState publishes the State characteristic (read + notify).
func ExportState(r *Registry, m *Machine) error {
	err := r.Export(&Characteristic{
		UUID:        UUIDState,
		Path:        CharState,
		ServicePath: ServicePath,
		Flags:       []string{"read", "notify"},
		Read:        m.handleReadState,
		OnNotify:    m.handleNotifyState,
	})
	if err != nil {
		return err
	}
	logging.Info("State characteristic exported")
	return nil
}

// -----------------------------------------------------------------------------
// Payload builders
// -----------------------------------------------------------------------------

func statePayload(s State) []byte {
	return []byte(`{"state":"` + string(s) + `"}`)
}

func connectedPayload(ssid, ip string) []byte {
	return []byte(`{"state":"CONNECTED","ssid":"` + escapeJSON(ssid) + `","ip":"` + escapeJSON(ip) + `"}`)
}

// buildScanPayload appends SSIDs one at a time and stops before the payload
// would exceed maxNotifyBytes including the closing "]}". No entry is ever
// partially included.
func buildScanPayload(ssids []string) []byte {
	var b strings.Builder
	b.WriteString(`{"op":"wifi_scan","ssids":[`)

	first := true
	for _, ssid := range ssids {
		entry := `"` + escapeJSON(ssid) + `"`
		if !first {
			entry = "," + entry
		}
		if b.Len()+len(entry)+2 > maxNotifyBytes {
			break
		}
		b.WriteString(entry)
		first = false
	}

	b.WriteString("]}")
	return []byte(b.String())
}

// escapeJSON escapes backslash, quote, and the common whitespace controls;
// any other byte below 0x20 becomes '?'.
func escapeJSON(in string) string {
	var out strings.Builder
	out.Grow(len(in))
	for i := 0; i < len(in); i++ {
		c := in[i]
		switch c {
		case '\\':
			out.WriteString(`\\`)
		case '"':
			out.WriteString(`\"`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '\t':
			out.WriteString(`\t`)
		default:
			if c < 0x20 {
				out.WriteByte('?')
			} else {
				out.WriteByte(c)
			}
		}
	}
	return out.String()
}
