package gatt

import (
	"strings"

	"provision-ble/internal/logging"
)

// jsonString is a minimal quoted-string extractor: it locates "key", the
// following colon, and the first quoted value after it. Escapes and nested
// quotes inside values are not handled; payloads come from our own Web BLE
// client and stay simple.
func jsonString(payload, key string) string {
	needle := `"` + key + `"`
	k := strings.Index(payload, needle)
	if k < 0 {
		return ""
	}

	rest := payload[k+len(needle):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return ""
	}

	rest = rest[colon+1:]
	q1 := strings.IndexByte(rest, '"')
	if q1 < 0 {
		return ""
	}

	rest = rest[q1+1:]
	q2 := strings.IndexByte(rest, '"')
	if q2 <= 0 {
		return ""
	}

	return rest[:q2]
}

// handleCommandWrite parses a central-originated command and dispatches it to
// the state machine. Runs on the dispatcher.
func (m *Machine) handleCommandWrite(value []byte) {
	payload := string(value)

	if payload == "" {
		logging.Warn("Command WriteValue: empty payload")
		return
	}

	logging.Infof("Command WriteValue: %s", payload)

	op := jsonString(payload, "op")

	// Legacy clients send cmd with dotted names.
	if op == "" {
		switch jsonString(payload, "cmd") {
		case "wifi.scan":
			op = "wifi_scan"
		case "wifi.connect":
			op = "wifi_connect"
		}
	}

	switch op {
	case "wifi_scan":
		logging.Info("Command dispatch: wifi_scan")
		m.HandleScanRequest()

	case "wifi_connect":
		ssid := jsonString(payload, "ssid")
		psk := jsonString(payload, "psk")
		if ssid == "" {
			logging.Warn("wifi_connect: missing ssid")
			return
		}
		logging.Info("Command dispatch: wifi_connect")
		m.HandleConnectRequest(ssid, psk)

	case "":
		logging.Warn("Command dispatch: no op/cmd field")

	default:
		logging.Warnf("Command dispatch: unknown op=%s", op)
	}
}

// ExportCommand publishes the write-only Command characteristic.
func ExportCommand(r *Registry, m *Machine) error {
	err := r.Export(&Characteristic{
		UUID:        UUIDCommand,
		Path:        CharCommand,
		ServicePath: ServicePath,
		Flags:       []string{"write"},
		Write:       m.handleCommandWrite,
	})
	if err != nil {
		return err
	}
	logging.Info("Command characteristic exported")
	return nil
}
