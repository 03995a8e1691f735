package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"runtime"
	"strings"
)

// Fingerprint derives an identifier from hardware and host properties:
// the first usable MAC address, the hostname and the platform. Every
// component is required.
type Fingerprint struct {
	// Interfaces and Hostname are overridable for tests.
	Interfaces func() ([]net.Interface, error)
	Hostname   func() (string, error)
}

func (f Fingerprint) GetID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mac, err := f.macAddress()
	if err != nil {
		return "", err
	}
	hostname, err := f.hostname()
	if err != nil {
		return "", err
	}

	factors := []string{mac, hostname, runtime.GOOS, runtime.GOARCH}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(sum[:]), nil
}

func (f Fingerprint) macAddress() (string, error) {
	list := f.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	interfaces, err := list()
	if err != nil {
		return "", unavailable("list network interfaces: %v", err)
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", unavailable("no network interface with a hardware address")
}

func (f Fingerprint) hostname() (string, error) {
	get := f.Hostname
	if get == nil {
		get = os.Hostname
	}
	name, err := get()
	if err != nil {
		return "", unavailable("hostname: %v", err)
	}
	if name = strings.TrimSpace(name); name == "" {
		return "", unavailable("hostname is empty")
	}
	return name, nil
}
