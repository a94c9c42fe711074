package wifi

import (
	"encoding/binary"
	"net"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"

	"provision-ble/internal/logging"
)

// Event is an address-change event observed on the Wi-Fi interface.
type Event int

const (
	Ipv4Ready Event = iota
	Ipv4Removed
)

// StartIPMonitor spawns the netlink monitor on its own OS thread. post hands
// events to the dispatcher; the monitor itself never touches provisioning
// state. Once the socket is bound the thread lives for the process lifetime;
// a socket or bind failure is logged and ends the monitor.
func StartIPMonitor(iface string, post func(Event)) {
	go monitor(iface, post)
}

func monitor(iface string, post func(Event)) {
	runtime.LockOSThread()

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		logging.Info("ip_monitor: failed to open netlink socket")
		return
	}

	sa := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_IPV4_IFADDR,
	}
	if err := unix.Bind(fd, sa); err != nil {
		logging.Info("ip_monitor: netlink bind failed")
		unix.Close(fd)
		return
	}

	logging.Info("wifi_connect: waiting for IPv4 config")

	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n <= 0 {
			// Individual recv errors do not terminate the monitor.
			continue
		}

		for _, ev := range parseAddrEvents(buf[:n], interfaceName, iface) {
			switch ev {
			case Ipv4Ready:
				post(Ipv4Ready)
			case Ipv4Removed:
				logging.Infof("ip_monitor: %s IPv4 removed", iface)
			}
		}
	}
}

func interfaceName(index int) string {
	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return ""
	}
	return ifi.Name
}

// parseAddrEvents extracts IPv4 address-change events for iface from a raw
// netlink datagram. nameOf resolves an interface index to its name.
func parseAddrEvents(buf []byte, nameOf func(int) string, iface string) []Event {
	msgs, err := syscall.ParseNetlinkMessage(buf)
	if err != nil {
		return nil
	}

	var events []Event
	for _, m := range msgs {
		if m.Header.Type != unix.RTM_NEWADDR && m.Header.Type != unix.RTM_DELADDR {
			continue
		}
		if len(m.Data) < unix.SizeofIfAddrmsg {
			continue
		}

		// ifaddrmsg: family(1) prefixlen(1) flags(1) scope(1) index(4)
		family := m.Data[0]
		index := binary.NativeEndian.Uint32(m.Data[4:8])

		if family != unix.AF_INET {
			continue
		}
		if nameOf(int(index)) != iface {
			continue
		}

		if m.Header.Type == unix.RTM_NEWADDR {
			events = append(events, Ipv4Ready)
		} else {
			events = append(events, Ipv4Removed)
		}
	}
	return events
}
