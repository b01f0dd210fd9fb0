// Package network tracks the host's network link and formats its identity
// for the panel and the self-description document.
package network

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Link is the device's network association.
type Link interface {
	// Associate blocks until the link is up or ctx is done.
	Associate(ctx context.Context) error
	// Up reports whether the link currently has an address.
	Up() bool
	HardwareAddr() net.HardwareAddr
	IP() net.IP
	// Mode names the medium, "wifi" or "ethernet".
	Mode() string
}

// Interface is the part of net.Interface the link looks at.
type Interface struct {
	Name         string
	Flags        net.Flags
	HardwareAddr net.HardwareAddr
	Addrs        []net.Addr
}

// Lister enumerates interfaces. The default reads the host's.
type Lister func() ([]Interface, error)

// HostInterfaces lists the host's interfaces.
func HostInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{
			Name:         iface.Name,
			Flags:        iface.Flags,
			HardwareAddr: iface.HardwareAddr,
			Addrs:        addrs,
		})
	}
	return out, nil
}

const (
	refreshInterval   = time.Second
	associateInterval = 2 * time.Second
)

// InterfaceLink follows one host interface, or the first usable one when
// no name is configured.
type InterfaceLink struct {
	name   string
	list   Lister
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	iface     string
	up        bool
	ip        net.IP
	mac       net.HardwareAddr
}

// NewInterfaceLink creates a link on the named interface ("" = any).
func NewInterfaceLink(name string, list Lister, logger *zap.Logger) *InterfaceLink {
	if list == nil {
		list = HostInterfaces
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterfaceLink{
		name:   name,
		list:   list,
		logger: logger,
		now:    time.Now,
	}
}

// Associate waits for the interface to come up. There is no timeout of
// its own; only ctx ends the wait.
func (l *InterfaceLink) Associate(ctx context.Context) error {
	ticker := time.NewTicker(associateInterval)
	defer ticker.Stop()

	for {
		if l.refresh(true) {
			l.mu.Lock()
			l.logger.Info("network associated",
				zap.String("interface", l.iface),
				zap.Stringer("ip", l.ip),
				zap.String("mac", MACText(l.mac)))
			l.mu.Unlock()
			return nil
		}

		l.logger.Debug("waiting for network", zap.String("interface", l.name))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *InterfaceLink) Up() bool {
	return l.refresh(false)
}

func (l *InterfaceLink) HardwareAddr() net.HardwareAddr {
	l.refresh(false)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mac
}

func (l *InterfaceLink) IP() net.IP {
	l.refresh(false)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.up {
		return nil
	}
	return l.ip
}

func (l *InterfaceLink) Mode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.HasPrefix(l.iface, "wl") {
		return "wifi"
	}
	return "ethernet"
}

// refresh re-reads the interfaces at most once per refreshInterval
// unless forced, and returns the up state.
func (l *InterfaceLink) refresh(force bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !force && !l.checkedAt.IsZero() && now.Sub(l.checkedAt) < refreshInterval {
		return l.up
	}
	l.checkedAt = now

	ifaces, err := l.list()
	if err != nil {
		l.logger.Warn("failed to list interfaces", zap.Error(err))
		l.up = false
		return false
	}

	l.up = false
	for _, iface := range ifaces {
		if l.name != "" && iface.Name != l.name {
			continue
		}
		// Skip down or loopback interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) < 6 {
			continue
		}

		ip := firstIPv4(iface.Addrs)
		if ip == nil && l.name == "" {
			continue
		}

		l.iface = iface.Name
		l.mac = iface.HardwareAddr
		l.ip = ip
		l.up = ip != nil
		break
	}
	return l.up
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}

		// Skip loopback and IPv6
		if ip == nil || ip.IsLoopback() || ip.To4() == nil {
			continue
		}
		return ip.To4()
	}
	return nil
}

// MACText formats a hardware address as "AA:BB:CC:DD:EE:FF".
func MACText(mac net.HardwareAddr) string {
	if len(mac) < 6 {
		return "--:--:--:--:--:--"
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// IPText formats an IPv4 address zero padded, "192.168.001.020", or
// "---.---.---.---" without one.
func IPText(ip net.IP) string {
	v4 := ip.To4()
	if v4 == nil {
		return "---.---.---.---"
	}
	return fmt.Sprintf("%03d.%03d.%03d.%03d", v4[0], v4[1], v4[2], v4[3])
}

// ClientID derives the default session id from the last three bytes of
// the hardware address in lower case hex.
func ClientID(mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return ""
	}
	n := len(mac)
	return fmt.Sprintf("%02x%02x%02x", mac[n-3], mac[n-2], mac[n-1])
}
