package gatt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"

	"provision-ble/internal/dispatch"
)

// fakeConn records PropertiesChanged emissions instead of touching a bus.
type fakeConn struct {
	emits []emittedValue
}

type emittedValue struct {
	path  dbus.ObjectPath
	value []byte
}

func (f *fakeConn) Export(v interface{}, path dbus.ObjectPath, iface string) error { return nil }

func (f *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	changed, _ := values[1].(map[string]dbus.Variant)
	val, _ := changed["Value"].Value().([]byte)
	f.emits = append(f.emits, emittedValue{path: path, value: val})
	return nil
}

func (f *fakeConn) payloads() []string {
	out := make([]string, len(f.emits))
	for i, e := range f.emits {
		out[i] = string(e.value)
	}
	return out
}

type fakeScanner struct {
	ssids []string
	calls int
}

func (s *fakeScanner) ScanSSIDs() []string {
	s.calls++
	return s.ssids
}

type fakeConnector struct {
	err   error
	ssid  string
	psk   string
	calls int
}

func (c *fakeConnector) Connect(ssid, psk string) error {
	c.calls++
	c.ssid, c.psk = ssid, psk
	return c.err
}

func newTestMachine(t *testing.T, scanner Scanner, connector Connector) (*Machine, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	reg := NewRegistry(fc, dispatch.New())
	m := NewMachine(reg, scanner, connector)
	if err := ExportState(reg, m); err != nil {
		t.Fatalf("ExportState: %v", err)
	}
	reg.chars[CharState].notifying = true
	return m, fc
}

func TestScanFlow(t *testing.T) {
	m, fc := newTestMachine(t, &fakeScanner{ssids: []string{"HomeNet", "Cafe"}}, &fakeConnector{})

	m.handleCommandWrite([]byte(`{"op":"wifi_scan"}`))

	want := []string{
		`{"state":"SCANNING"}`,
		`{"op":"wifi_scan","ssids":["HomeNet","Cafe"]}`,
		`{"state":"SCAN_COMPLETE"}`,
	}
	got := fc.payloads()
	if len(got) != len(want) {
		t.Fatalf("got %d notifications %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, got[i], want[i])
		}
	}
	if m.State() != StateScanComplete {
		t.Errorf("final state = %s, want %s", m.State(), StateScanComplete)
	}
}

func TestLegacyScanCommand(t *testing.T) {
	sc := &fakeScanner{ssids: []string{"HomeNet"}}
	m, fc := newTestMachine(t, sc, &fakeConnector{})

	m.handleCommandWrite([]byte(`{"cmd":"wifi.scan"}`))

	if sc.calls != 1 {
		t.Fatalf("scanner called %d times, want 1", sc.calls)
	}
	got := fc.payloads()
	if len(got) != 3 || got[1] != `{"op":"wifi_scan","ssids":["HomeNet"]}` {
		t.Errorf("notifications = %q", got)
	}
}

func TestConnectHappyPath(t *testing.T) {
	conn := &fakeConnector{}
	m, fc := newTestMachine(t, &fakeScanner{}, conn)

	m.handleCommandWrite([]byte(`{"op":"wifi_connect","ssid":"HomeNet","psk":"secret"}`))

	if conn.ssid != "HomeNet" || conn.psk != "secret" {
		t.Errorf("connector got (%q, %q)", conn.ssid, conn.psk)
	}
	if got := fc.payloads(); len(got) != 1 || got[0] != `{"state":"CONNECTING"}` {
		t.Fatalf("notifications = %q", got)
	}
	if m.State() != StateConnecting {
		t.Errorf("state = %s, want CONNECTING", m.State())
	}

	m.SetConnected("HomeNet", "192.168.1.20")

	want := `{"state":"CONNECTED","ssid":"HomeNet","ip":"192.168.1.20"}`
	got := fc.payloads()
	if got[len(got)-1] != want {
		t.Errorf("connected payload = %q, want %q", got[len(got)-1], want)
	}
	if m.State() != StateConnected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
}

func TestConnectRejectedSynchronously(t *testing.T) {
	conn := &fakeConnector{err: errors.New("no Wi-Fi device")}
	m, fc := newTestMachine(t, &fakeScanner{}, conn)

	m.handleCommandWrite([]byte(`{"op":"wifi_connect","ssid":"HomeNet","psk":"secret"}`))

	want := []string{`{"state":"CONNECTING"}`, `{"state":"UNCONFIGURED"}`}
	got := fc.payloads()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("notifications = %q, want %q", got, want)
	}
	if m.State() != StateUnconfigured {
		t.Errorf("state = %s, want UNCONFIGURED", m.State())
	}
}

func TestConnectEmptySSIDIgnored(t *testing.T) {
	conn := &fakeConnector{}
	m, fc := newTestMachine(t, &fakeScanner{}, conn)

	m.handleCommandWrite([]byte(`{"op":"wifi_connect","ssid":"","psk":"secret"}`))

	if conn.calls != 0 {
		t.Errorf("connector called %d times, want 0", conn.calls)
	}
	if len(fc.emits) != 0 {
		t.Errorf("got %d notifications, want 0", len(fc.emits))
	}
	if m.State() != StateUnconfigured {
		t.Errorf("state = %s, want UNCONFIGURED", m.State())
	}
}

func TestLateSubscribeAfterConnected(t *testing.T) {
	m, fc := newTestMachine(t, &fakeScanner{}, &fakeConnector{})
	m.SetConnected("HomeNet", "192.168.1.20")
	fc.emits = nil

	m.handleNotifyState(true)

	want := `{"state":"CONNECTED","ssid":"HomeNet","ip":"192.168.1.20"}`
	got := fc.payloads()
	if len(got) != 1 || got[0] != want {
		t.Errorf("notifications = %q, want exactly [%q]", got, want)
	}
}

func TestSubscribeBeforeConnectedProbes(t *testing.T) {
	m, fc := newTestMachine(t, &fakeScanner{}, &fakeConnector{})
	probed := 0
	m.SetProbe(func() { probed++ })

	m.handleNotifyState(true)

	if probed != 1 {
		t.Errorf("probe called %d times, want 1", probed)
	}
	if len(fc.emits) != 0 {
		t.Errorf("got %d notifications, want 0", len(fc.emits))
	}
}

func TestRepeatedIPv4ReadyIdempotent(t *testing.T) {
	m, fc := newTestMachine(t, &fakeScanner{}, &fakeConnector{})

	m.SetConnected("HomeNet", "192.168.1.20")
	m.SetConnected("HomeNet", "192.168.1.20")

	got := fc.emits
	if len(got) != 2 {
		t.Fatalf("got %d notifications, want 2", len(got))
	}
	if !bytes.Equal(got[0].value, got[1].value) {
		t.Errorf("re-emitted payload differs: %q vs %q", got[0].value, got[1].value)
	}
}

func TestScanPayloadTruncation(t *testing.T) {
	// 27-byte prefix + 171-byte quoted entry + "]}" is exactly the 200-byte cap,
	// so `,"B"` no longer fits.
	long := strings.Repeat("A", 169)
	cases := []struct {
		name  string
		ssids []string
		want  string
	}{
		{
			name:  "empty list",
			ssids: nil,
			want:  `{"op":"wifi_scan","ssids":[]}`,
		},
		{
			name:  "second entry would overflow",
			ssids: []string{long, "B"},
			want:  `{"op":"wifi_scan","ssids":["` + long + `"]}`,
		},
		{
			name:  "first entry already too large",
			ssids: []string{strings.Repeat("A", 250)},
			want:  `{"op":"wifi_scan","ssids":[]}`,
		},
	}

	for _, tt := range cases {
		got := string(buildScanPayload(tt.ssids))
		if got != tt.want {
			t.Errorf("%s: payload = %q, want %q", tt.name, got, tt.want)
		}
		if len(got) > maxNotifyBytes {
			t.Errorf("%s: payload is %d bytes, cap is %d", tt.name, len(got), maxNotifyBytes)
		}
	}
}

func TestScanPayloadNeverExceedsCap(t *testing.T) {
	var ssids []string
	for i := 0; i < 40; i++ {
		ssids = append(ssids, strings.Repeat("x", i))
	}
	if got := buildScanPayload(ssids); len(got) > maxNotifyBytes {
		t.Errorf("payload is %d bytes, cap is %d", len(got), maxNotifyBytes)
	}
}

func TestEscapeJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`plain`, `plain`},
		{`a"b`, `a\"b`},
		{`a\b`, `a\\b`},
		{"a\nb", `a\nb`},
		{"a\rb", `a\rb`},
		{"a\tb", `a\tb`},
		{"a\x01b", "a?b"},
		{"caf\xc3\xa9", "caf\xc3\xa9"},
		{"\x00\x1f", "??"},
	}
	for _, tt := range cases {
		if got := escapeJSON(tt.in); got != tt.want {
			t.Errorf("escapeJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadStateReturnsCurrentState(t *testing.T) {
	m, _ := newTestMachine(t, &fakeScanner{}, &fakeConnector{})

	if got := string(m.handleReadState()); got != `{"state":"UNCONFIGURED"}` {
		t.Errorf("read = %q", got)
	}

	m.SetConnected("HomeNet", "10.0.0.2")
	if got := string(m.handleReadState()); got != `{"state":"CONNECTED"}` {
		t.Errorf("read after connect = %q", got)
	}
}
