package sockets

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// SocketAddress is an IPv4 endpoint with an optional unresolved hostname.
// The IP is kept in host byte order.
type SocketAddress struct {
	ip       uint32
	port     uint16
	hostname string
}

// NewSocketAddress parses a dotted quad host. Other hostnames are kept
// unresolved until Resolve is called with DNS enabled.
func NewSocketAddress(host string, port uint16) SocketAddress {
	a := SocketAddress{hostname: host, port: port}
	a.Resolve(true, false)
	return a
}

// ResolveSocketAddress builds an address and resolves the host through DNS
func ResolveSocketAddress(host string, port uint16) (SocketAddress, error) {
	a := SocketAddress{hostname: host, port: port}
	if !a.Resolve(true, true) {
		return a, fmt.Errorf("sockets: cannot resolve %q", host)
	}
	return a, nil
}

// AddressFromIP builds an address from a host order IP
func AddressFromIP(ip uint32, port uint16) SocketAddress {
	return SocketAddress{ip: ip, port: port}
}

func (a SocketAddress) IP() uint32 { return a.ip }

func (a SocketAddress) Port() uint16 { return a.port }

func (a SocketAddress) Hostname() string { return a.hostname }

// SetIP replaces the IP and forgets the hostname
func (a *SocketAddress) SetIP(ip uint32) {
	a.ip = ip
	a.hostname = ""
}

func (a *SocketAddress) SetPort(port uint16) { a.port = port }

// Resolve fills the IP from the hostname. Without force an already resolved
// address is left alone. It reports whether the address now has an IP.
func (a *SocketAddress) Resolve(force, useDNS bool) bool {
	if a.hostname == "" {
		return false
	}
	if !force && !a.IsAny() {
		return true
	}
	ip := stringToIP(a.hostname, useDNS)
	if ip == 0 {
		return false
	}
	a.ip = ip
	return true
}

func stringToIP(host string, useDNS bool) uint32 {
	if ip := net.ParseIP(host).To4(); ip != nil {
		return ipToUint32(ip)
	}
	if !useDNS {
		return 0
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return 0
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return ipToUint32(v4)
		}
	}
	return 0
}

func ipToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

// IPString renders the IP, or the hostname while unresolved
func (a SocketAddress) IPString() string {
	if a.ip == 0 && a.hostname != "" {
		return a.hostname
	}
	return fmt.Sprintf("%d.%d.%d.%d", a.ip>>24&0xff, a.ip>>16&0xff, a.ip>>8&0xff, a.ip&0xff)
}

func (a SocketAddress) String() string {
	return net.JoinHostPort(a.IPString(), strconv.Itoa(int(a.port)))
}

func (a SocketAddress) IsAny() bool { return a.ip == 0 }

func (a SocketAddress) IsLocalIP() bool { return a.ip>>24 == 127 }

func (a SocketAddress) IsUnresolved() bool {
	return a.IsAny() && a.hostname != ""
}

// IsPrivateIP covers loopback and the RFC 1918 ranges
func (a SocketAddress) IsPrivateIP() bool {
	return a.ip>>24 == 127 ||
		a.ip>>24 == 10 ||
		a.ip>>20 == (172<<4|1) ||
		a.ip>>16 == (192<<8|168)
}

// EqualIPs compares IPs, falling back to hostnames when both are unresolved
func (a SocketAddress) EqualIPs(b SocketAddress) bool {
	return a.ip == b.ip && (a.ip != 0 || a.hostname == b.hostname)
}

func (a SocketAddress) Equal(b SocketAddress) bool {
	return a.EqualIPs(b) && a.port == b.port
}

// Less orders by IP, then hostname for unresolved addresses, then port
func (a SocketAddress) Less(b SocketAddress) bool {
	if a.ip != b.ip {
		return a.ip < b.ip
	}
	if b.ip == 0 && a.hostname != b.hostname {
		return a.hostname < b.hostname
	}
	return a.port < b.port
}

func (a SocketAddress) Hash() uint32 {
	p := uint32(a.port)
	return a.ip ^ (p | p<<16)
}

// Sockaddr converts to the form accepted by bind and connect
func (a SocketAddress) Sockaddr() *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: int(a.port)}
	sa.Addr = [4]byte{byte(a.ip >> 24), byte(a.ip >> 16), byte(a.ip >> 8), byte(a.ip)}
	return sa
}

// AddressFromSockaddr converts a kernel address. Non IPv4 addresses yield
// the zero address.
func AddressFromSockaddr(sa unix.Sockaddr) SocketAddress {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return SocketAddress{}
	}
	return AddressFromIP(ipToUint32(in4.Addr[:]), uint16(in4.Port))
}
