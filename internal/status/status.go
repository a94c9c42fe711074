// Package status serves a small read-only HTTP surface on loopback for local
// debugging: daemon health and the current provisioning state. It is not a
// provisioning UI; the BLE service is the only control path.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"provision-ble/internal/gatt"
	"provision-ble/internal/logging"
)

// Report is the GET /status payload.
type Report struct {
	Service string `json:"service"`
	Session string `json:"session"`
	State   string `json:"state"`
	SSID    string `json:"ssid,omitempty"`
	IP      string `json:"ip,omitempty"`
	Uptime  int64  `json:"uptime_seconds"`
}

// Server exposes /health and /status.
type Server struct {
	machine *gatt.Machine
	session string
	started time.Time
}

func New(machine *gatt.Machine, session string) *Server {
	return &Server{
		machine: machine,
		session: session,
		started: time.Now(),
	}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"provision-ble"}`))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		state, ssid, ip := s.machine.Snapshot()
		report := Report{
			Service: "provision-ble",
			Session: s.session,
			State:   string(state),
			SSID:    ssid,
			IP:      ip,
			Uptime:  int64(time.Since(s.started).Seconds()),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	})

	return r
}

// ListenAndServe blocks serving the status endpoint; run it on its own
// goroutine. Failures are logged, never fatal.
func (s *Server) ListenAndServe(addr string) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logging.Infof("status endpoint listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Errorf("status endpoint failed: %v", err)
	}
}
