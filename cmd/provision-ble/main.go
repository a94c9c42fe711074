// provision-ble
// Headless first-boot BLE provisioning daemon for single-board Linux
// appliances. Exposes a small GATT service over BlueZ that accepts Wi-Fi
// credentials from a browser or other BLE central and reports progress.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"provision-ble/internal/adv"
	"provision-ble/internal/bluez"
	"provision-ble/internal/dispatch"
	"provision-ble/internal/gatt"
	"provision-ble/internal/logging"
	"provision-ble/internal/status"
	"provision-ble/internal/wifi"
)

const (
	defaultLogPath    = "/var/log/provision/ble.log"
	defaultAlias      = "PiDevelopDotcom"
	defaultWifiIface  = "wlan0"
	defaultStatusAddr = "127.0.0.1:6060"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logging.Init(getenv("PROVISION_LOG_PATH", defaultLogPath))

	session := uuid.NewString()
	logging.Infof("provision-ble starting session=%s", session)

	err := run(
		getenv("PROVISION_ALIAS", defaultAlias),
		getenv("PROVISION_WIFI_IFACE", defaultWifiIface),
		os.Getenv("PROVISION_STATUS_ADDR"),
		session,
	)
	if err != nil {
		logging.Errorf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run(alias, iface, statusAddr, session string) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}

	// Set the pairing name before anything starts advertising.
	adv.SetAlias(conn, alias)

	loop := dispatch.New()
	reg := gatt.NewRegistry(conn, loop)
	machine := gatt.NewMachine(reg, wifi.NewScanner(iface), wifi.NewConnector(iface, loop))

	ipv4Ready := wifi.NewIPv4ReadyHandler(iface, machine)
	machine.SetProbe(func() { loop.Post(ipv4Ready) })

	wifi.StartIPMonitor(iface, func(ev wifi.Event) {
		if ev == wifi.Ipv4Ready {
			loop.Post(ipv4Ready)
		}
	})

	// Export the fixed object tree, then the advertisement.
	if err := gatt.ExportApplication(reg); err != nil {
		return err
	}
	if err := gatt.ExportService(reg); err != nil {
		return err
	}
	if err := gatt.ExportDeviceInfo(reg); err != nil {
		return err
	}
	if err := gatt.ExportState(reg, machine); err != nil {
		return err
	}
	if err := gatt.ExportCommand(reg, machine); err != nil {
		return err
	}
	if err := adv.Export(conn); err != nil {
		return err
	}

	adapter, err := bluez.FindAdapter(conn)
	if err != nil {
		return err
	}
	logging.Infof("BlueZ adapter selected: %s", adapter)

	if statusAddr == "" {
		statusAddr = defaultStatusAddr
	}
	if statusAddr != "none" {
		go status.New(machine, session).ListenAndServe(statusAddr)
	}

	// Registration runs once the loop is live: application first, then the
	// advertisement, each completion delivered back on the loop.
	loop.Post(func() {
		bluez.RegisterApplicationAsync(conn, adapter, gatt.AppPath, loop, func(ok bool, errMsg string) {
			if !ok {
				logging.Errorf("RegisterApplication failed: %s", errMsg)
				return
			}
			logging.Info("GATT application registered")

			bluez.RegisterAdvertisementAsync(conn, adapter, adv.AdvPath, loop, func(ok bool, errMsg string) {
				if !ok {
					logging.Errorf("RegisterAdvertisement failed: %s", errMsg)
					return
				}
				logging.Info("Advertisement registered")
				daemon.SdNotify(false, daemon.SdNotifyReady)
			})
		})
	})

	// SIGINT/SIGTERM stop the loop for a clean exit.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logging.Info("shutting down")
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		loop.Stop()
	}()

	logging.Info("Entering main loop")
	loop.Run()
	return nil
}
