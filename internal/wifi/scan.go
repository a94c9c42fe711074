package wifi

import (
	"sort"
	"sync/atomic"
	"time"

	"provision-ble/internal/logging"
)

// scanSettle gives the driver time to populate results after RequestScan.
const scanSettle = 700 * time.Millisecond

// Scanner performs one-shot SSID enumeration. A single busy flag guards
// against overlapping scans; a scan attempted while one is in flight returns
// empty without touching NetworkManager.
type Scanner struct {
	iface  string
	settle time.Duration
	busy   atomic.Bool

	open func() (Device, error)
}

func NewScanner(iface string) *Scanner {
	return &Scanner{
		iface:  iface,
		settle: scanSettle,
		open:   func() (Device, error) { return openWifiDevice(iface) },
	}
}

// ScanSSIDs requests a scan, waits for results to settle, and returns unique
// SSIDs sorted by descending strongest observed signal. Hidden networks
// (empty SSIDs) are dropped. All exit paths release the busy flag.
func (s *Scanner) ScanSSIDs() []string {
	if !s.busy.CompareAndSwap(false, true) {
		logging.Warn("wifi_scan: ignored (busy)")
		return nil
	}
	defer s.busy.Store(false)

	logging.Info("wifi_scan: starting scan")

	dev, err := s.open()
	if err != nil {
		logging.Errorf("wifi_scan: %v", err)
		return nil
	}

	if err := dev.RequestScan(); err != nil {
		logging.Warn("wifi_scan: scan request failed, using cached results")
	}

	// Allow scan results to populate
	time.Sleep(s.settle)

	aps, err := dev.AccessPoints()
	if err != nil {
		logging.Warnf("wifi_scan: no access points returned: %v", err)
		return nil
	}

	ssids := strongestSSIDs(aps)
	logging.Infof("wifi_scan: found %d SSIDs", len(ssids))
	return ssids
}

// strongestSSIDs deduplicates by SSID keeping the strongest signal seen, then
// sorts by descending strength (name ascending as tie-break).
func strongestSSIDs(aps []AccessPoint) []string {
	best := make(map[string]int)
	for _, ap := range aps {
		if ap.SSID == "" {
			continue
		}
		if cur, ok := best[ap.SSID]; !ok || ap.Strength > cur {
			best[ap.SSID] = ap.Strength
		}
	}

	out := make([]string, 0, len(best))
	for ssid := range best {
		out = append(out, ssid)
	}
	sort.Slice(out, func(i, j int) bool {
		if best[out[i]] != best[out[j]] {
			return best[out[i]] > best[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
