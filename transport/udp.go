package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
)

// UDPConfig describes a UDP endpoint. Source is the local bind address;
// empty binds an ephemeral port. Dest is the default send target. When
// either is a multicast group the socket joins it, on Interface if given
// (an interface name or one of its addresses).
type UDPConfig struct {
	Source    string
	Dest      string
	Interface string
}

// UDP is a datagram transport. Connect binds the socket; no peer handshake
// takes place.
type UDP struct {
	mu       sync.Mutex
	cfg      UDPConfig
	conn     *net.UDPConn
	destAddr *net.UDPAddr
}

// NewUDP returns a UDP transport for cfg.
func NewUDP(cfg UDPConfig) *UDP {
	return &UDP{cfg: cfg}
}

func (u *UDP) Connect(ctx context.Context) error {
	u.mu.Lock()
	cfg := u.cfg
	u.mu.Unlock()

	var source, dest *net.UDPAddr
	var err error

	if cfg.Source != "" {
		if source, err = resolveUDP(ctx, cfg.Source); err != nil {
			return errors.WrapInvalid(err, "UDP", "Connect", "source resolve")
		}
	}
	if cfg.Dest != "" {
		if dest, err = resolveUDP(ctx, cfg.Dest); err != nil {
			return errors.WrapInvalid(err, "UDP", "Connect", "destination resolve")
		}
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		if ifi, err = findInterface(cfg.Interface); err != nil {
			return errors.WrapInvalid(err, "UDP", "Connect", "interface lookup")
		}
	}

	sourceGroup := source != nil && source.IP.IsMulticast()
	destGroup := dest != nil && dest.IP.IsMulticast()

	bind := source
	if sourceGroup {
		// listen on the group port across all addresses of the host
		bind = &net.UDPAddr{Port: source.Port}
	} else if destGroup {
		bind = nil
	}

	var lc net.ListenConfig
	bindAddr := ":0"
	if bind != nil {
		bindAddr = bind.String()
	}
	pc, err := lc.ListenPacket(ctx, "udp", bindAddr)
	if err != nil {
		return errors.WrapTransient(err, "UDP", "Connect", "bind "+bindAddr)
	}
	conn := pc.(*net.UDPConn)

	for _, group := range []*net.UDPAddr{source, dest} {
		if group == nil || !group.IP.IsMulticast() {
			continue
		}
		if err := joinGroup(conn, ifi, group.IP); err != nil {
			_ = conn.Close()
			return errors.WrapTransient(err, "UDP", "Connect", "join group "+group.IP.String())
		}
	}

	u.mu.Lock()
	old := u.conn
	u.conn = conn
	u.destAddr = dest
	u.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func resolveUDP(ctx context.Context, addr string) (*net.UDPAddr, error) {
	d, err := ParseDestination(addr)
	if err != nil {
		return nil, err
	}
	host := d.Host
	if host == "*" || host == "0.0.0.0" {
		return &net.UDPAddr{Port: d.Port}, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, trimBrackets(host))
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: no address for %q", errors.ErrInvalidDestination, host)
	}
	return &net.UDPAddr{IP: ips[0].IP, Port: d.Port, Zone: ips[0].Zone}, nil
}

func trimBrackets(host string) string {
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}

func findInterface(name string) (*net.Interface, error) {
	if ifi, err := net.InterfaceByName(name); err == nil {
		return ifi, nil
	}

	ip := net.ParseIP(name)
	if ip == nil {
		return nil, fmt.Errorf("no interface named %q", name)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface has address %s", name)
}

func joinGroup(conn *net.UDPConn, ifi *net.Interface, group net.IP) error {
	if group.To4() != nil {
		p := ipv4.NewPacketConn(conn)
		if ifi != nil {
			if err := p.SetMulticastInterface(ifi); err != nil {
				return err
			}
		}
		return p.JoinGroup(ifi, &net.UDPAddr{IP: group})
	}

	p := ipv6.NewPacketConn(conn)
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			return err
		}
	}
	return p.JoinGroup(ifi, &net.UDPAddr{IP: group})
}

func (u *UDP) current() *net.UDPConn {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn
}

// Read returns the next datagram, discarding the sender address.
func (u *UDP) Read(p []byte) (int, error) {
	n, _, err := u.ReadFrom(p)
	return n, err
}

// ReadFrom returns the next datagram and its sender as "host:port".
func (u *UDP) ReadFrom(p []byte) (int, string, error) {
	conn := u.current()
	if conn == nil {
		return 0, "", net.ErrClosed
	}
	n, from, err := conn.ReadFromUDP(p)
	if from == nil {
		return n, "", err
	}
	return n, from.String(), err
}

// Write sends p to the configured destination.
func (u *UDP) Write(p []byte) (int, error) {
	u.mu.Lock()
	conn := u.conn
	dest := u.destAddr
	destSpec := u.cfg.Dest
	u.mu.Unlock()

	if conn == nil {
		return 0, errors.ErrNotConnected
	}
	if dest == nil {
		if destSpec == "" {
			return 0, errors.ErrNoDestination
		}
		resolved, err := resolveUDP(context.Background(), destSpec)
		if err != nil {
			return 0, err
		}
		u.mu.Lock()
		u.destAddr = resolved
		u.mu.Unlock()
		dest = resolved
	}
	return conn.WriteToUDP(p, dest)
}

// WriteTo sends p to a one-off destination.
func (u *UDP) WriteTo(p []byte, dest string) (int, error) {
	conn := u.current()
	if conn == nil {
		return 0, errors.ErrNotConnected
	}
	addr, err := resolveUDP(context.Background(), dest)
	if err != nil {
		return 0, err
	}
	return conn.WriteToUDP(p, addr)
}

func (u *UDP) Close() error {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SetDest changes the default send target immediately.
func (u *UDP) SetDest(dest string) {
	u.mu.Lock()
	u.cfg.Dest = dest
	u.destAddr = nil
	u.mu.Unlock()
}

// LocalAddr returns the bound address of the live socket, or nil.
func (u *UDP) LocalAddr() net.Addr {
	conn := u.current()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

func (u *UDP) Identity() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cfg.Dest != "" {
		return u.cfg.Dest
	}
	return u.cfg.Source
}

func (u *UDP) Kind() engine.Kind { return engine.KindUDP }

var (
	_ engine.Transport         = (*UDP)(nil)
	_ engine.PacketTransport   = (*UDP)(nil)
	_ engine.DestinationSetter = (*UDP)(nil)
)
