package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const schemePrefix = "tcp://"

var ErrMalformedAddress = errors.New("malformed peer address")

// PeerAddress is where a peer's receive server can be reached.
type PeerAddress struct {
	Host       string
	Port       uint16
	DeviceName string
}

// ParseAddress accepts "tcp://host:port|name"; the scheme is optional.
func ParseAddress(s string) (PeerAddress, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), schemePrefix))

	sep := strings.LastIndexByte(s, '|')
	if sep < 0 {
		return PeerAddress{}, fmt.Errorf("%w: missing device name in %q", ErrMalformedAddress, s)
	}

	hostPort, name := s[:sep], s[sep+1:]
	if name == "" {
		return PeerAddress{}, fmt.Errorf("%w: empty device name", ErrMalformedAddress)
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if host == "" {
		return PeerAddress{}, fmt.Errorf("%w: empty host", ErrMalformedAddress)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return PeerAddress{}, fmt.Errorf("%w: invalid port %q", ErrMalformedAddress, portStr)
	}

	return PeerAddress{Host: host, Port: uint16(port), DeviceName: name}, nil
}

func (a PeerAddress) String() string {
	return schemePrefix + a.Addr() + "|" + a.DeviceName
}

// Addr is the dialable host:port part.
func (a PeerAddress) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// LocalIPv4 picks the first IPv4 address of an up, non-loopback interface.
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil {
				return ip, nil
			}
		}
	}
	return nil, errors.New("no non-loopback IPv4 address found")
}
