package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/c360/devlink/errors"
)

// Destination is a parsed "host:port" address.
type Destination struct {
	Host string
	Port int
}

// Address formats the destination for the net package.
func (d Destination) Address() string {
	return net.JoinHostPort(strings.Trim(d.Host, "[]"), strconv.Itoa(d.Port))
}

// ParseDestination splits dest at its last colon. The host may be a name,
// an IPv4 literal or a bracketed IPv6 literal.
func ParseDestination(dest string) (Destination, error) {
	if dest == "" {
		return Destination{}, errors.ErrNoDestination
	}

	i := strings.LastIndexByte(dest, ':')
	if i < 1 {
		return Destination{}, fmt.Errorf("%w: %q is missing a host or port", errors.ErrInvalidDestination, dest)
	}

	host, portPart := dest[:i], dest[i+1:]
	if portPart == "" {
		return Destination{}, fmt.Errorf("%w: port is missing in %q", errors.ErrInvalidDestination, dest)
	}

	port, err := strconv.Atoi(portPart)
	if err != nil || port < 0 || port > 65535 {
		return Destination{}, fmt.Errorf("%w: port was invalid - %q", errors.ErrInvalidDestination, portPart)
	}

	return Destination{Host: host, Port: port}, nil
}
