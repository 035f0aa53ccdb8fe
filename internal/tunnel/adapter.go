// Package tunnel wraps the host's virtual network interface: a layer-3 TUN
// device the shuttle reads captured IP packets from and writes returned
// ones to (github.com/songgao/water for the device,
// github.com/vishvananda/netlink for route/address/MTU plumbing). The
// client captures and reinjects only its own traffic, so no firewall or
// NAT rules are installed here.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pseusys/betterbuf"
	"github.com/sirupsen/logrus"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"

	"github.com/pseusys/seaside-viridian/internal/buffer"
	"github.com/pseusys/seaside-viridian/internal/ipfix"
)

var defaultRouteDst = net.IPv4(0, 0, 0, 0)

// Adapter owns the TUN device for the lifetime of one VPN session.
type Adapter struct {
	mu    sync.Mutex
	iface *water.Interface
	link  netlink.Link
	name  string
}

// validateTunnelNetwork rejects a tunnel address equal to the network or
// broadcast address of its own netmask.
func validateTunnelNetwork(address, netmask string) (net.IP, *net.IPNet, error) {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return nil, nil, fmt.Errorf("invalid tunnel address %q", address)
	}
	maskIP := net.ParseIP(netmask)
	if maskIP == nil || maskIP.To4() == nil {
		return nil, nil, fmt.Errorf("invalid tunnel netmask %q", netmask)
	}
	ip4, mask := ip.To4(), net.IPMask(maskIP.To4())

	network := &net.IPNet{IP: ip4.Mask(mask), Mask: mask}
	if ip4.Equal(network.IP) {
		return nil, nil, fmt.Errorf("tunnel address %s is the network address of %s", ip4, network)
	}
	if ip4.Equal(broadcastAddress(network)) {
		return nil, nil, fmt.Errorf("tunnel address %s is the broadcast address of %s", ip4, network)
	}
	return ip4, network, nil
}

func broadcastAddress(network *net.IPNet) net.IP {
	broadcast := make(net.IP, len(network.IP))
	for i := range network.IP {
		broadcast[i] = network.IP[i] | ^network.Mask[i]
	}
	return broadcast
}

// defaultRouteInterface finds the network interface the default route
// points at.
func defaultRouteInterface() (*net.Interface, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("error listing routes: %w", err)
	}
	for _, route := range routes {
		if route.Dst != nil && !route.Dst.IP.Equal(defaultRouteDst) {
			continue
		}
		iface, err := net.InterfaceByIndex(route.LinkIndex)
		if err != nil {
			logrus.Warnf("error resolving interface %d: %v", route.LinkIndex, err)
			continue
		}
		return iface, nil
	}
	return nil, fmt.Errorf("default route not found")
}

// DefaultRouteSourceIP returns the local IPv4 address the default route
// would use, for binding the protocol client's outbound socket.
func DefaultRouteSourceIP() (net.IP, error) {
	iface, err := defaultRouteInterface()
	if err != nil {
		return nil, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("error reading addresses of %s: %w", iface.Name, err)
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, fmt.Errorf("no IPv4 address on default-route interface %s", iface.Name)
}

func disableIPv6(ifaceName string) error {
	path := fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/disable_ipv6", ifaceName)
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// Open allocates a TUN device named name, assigns it address/netmask and an
// MTU matching the host's default route, brings it up, and disables IPv6 on
// it.
func Open(name, address, netmask string) (*Adapter, error) {
	ip, network, err := validateTunnelNetwork(address, netmask)
	if err != nil {
		return nil, fmt.Errorf("tunnel configuration rejected: %w", err)
	}

	iface, err := water.New(water.Config{DeviceType: water.TUN, PlatformSpecificParams: water.PlatformSpecificParams{Name: name}})
	if err != nil {
		return nil, fmt.Errorf("error allocating TUN interface %q: %w", name, err)
	}

	link, err := netlink.LinkByName(iface.Name())
	if err != nil {
		iface.Close()
		return nil, fmt.Errorf("error resolving link %q: %w", iface.Name(), err)
	}

	defaultIface, err := defaultRouteInterface()
	if err != nil {
		iface.Close()
		return nil, fmt.Errorf("error discovering default-route MTU: %w", err)
	}
	if err := netlink.LinkSetMTU(link, defaultIface.MTU); err != nil {
		iface.Close()
		return nil, fmt.Errorf("error setting MTU on %q: %w", iface.Name(), err)
	}

	cidr, _ := network.Mask.Size()
	addr, err := netlink.ParseAddr(fmt.Sprintf("%s/%d", ip, cidr))
	if err != nil {
		iface.Close()
		return nil, fmt.Errorf("error building interface address: %w", err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		iface.Close()
		return nil, fmt.Errorf("error assigning address to %q: %w", iface.Name(), err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		iface.Close()
		return nil, fmt.Errorf("error bringing up %q: %w", iface.Name(), err)
	}

	if err := disableIPv6(iface.Name()); err != nil {
		logrus.Warnf("error disabling IPv6 on %q (continuing anyway): %v", iface.Name(), err)
	}

	logrus.Infof("tunnel interface %s opened (IP: %s, MTU: %d)", iface.Name(), ip, defaultIface.MTU)
	return &Adapter{iface: iface, link: link, name: iface.Name()}, nil
}

// Name returns the interface name actually assigned by the kernel (which
// may differ from the requested one on some platforms).
func (a *Adapter) Name() string {
	return a.name
}

// Recv reads exactly one IP packet into a freshly allocated packet buffer,
// narrowed to the byte count actually read. Blocking; cancel by closing the
// adapter from another goroutine.
func (a *Adapter) Recv(_ context.Context) (*betterbuf.Buffer, error) {
	datagram := buffer.PacketPool.GetFull()
	n, err := a.iface.Read(datagram.Slice())
	if err != nil {
		buffer.PacketPool.Put(datagram)
		return nil, fmt.Errorf("error reading from tunnel: %w", err)
	}
	packet := datagram.RebufferEnd(n)

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		if header, err := ipfix.ReadIPv4(packet); err == nil {
			logrus.Debugf("captured packet: %s -> %s, protocol %d, %d bytes", header.Source, header.Destination, header.Protocol, n)
		}
	}
	return packet, nil
}

// Send writes one IP packet to the tunnel. packet is consumed (returned to
// the pool) regardless of outcome.
func (a *Adapter) Send(_ context.Context, packet *betterbuf.Buffer) error {
	defer buffer.PacketPool.Put(packet)
	if _, err := a.iface.Write(packet.Slice()); err != nil {
		return fmt.Errorf("error writing to tunnel: %w", err)
	}
	return nil
}

// Close brings the interface down and releases the TUN file descriptor.
// Bringing the link down is best-effort: a failure there is logged, not
// returned. A failure to close the device is returned.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := netlink.LinkSetDown(a.link); err != nil {
		logrus.Warnf("error bringing down %q: %v", a.name, err)
	}
	if err := a.iface.Close(); err != nil {
		return fmt.Errorf("error closing tunnel device %q: %w", a.name, err)
	}
	return nil
}
