package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
)

// portRange is a validated N or N-M port selector, as accepted by
// --capture-ports/--exempt-ports.
type portRange struct {
	lo, hi uint16
}

// parsePortRange accepts either a single port ("443") or a "LO-HI" range
// and rejects a range where LO > HI.
func parsePortRange(s string) (portRange, error) {
	lo, hi, found := strings.Cut(s, "-")
	loPort, err := strconv.ParseUint(lo, 10, 16)
	if err != nil {
		return portRange{}, fmt.Errorf("invalid port %q: %w", lo, err)
	}
	if !found {
		return portRange{lo: uint16(loPort), hi: uint16(loPort)}, nil
	}
	hiPort, err := strconv.ParseUint(hi, 10, 16)
	if err != nil {
		return portRange{}, fmt.Errorf("invalid port %q: %w", hi, err)
	}
	if loPort > hiPort {
		return portRange{}, fmt.Errorf("port range %q has low end greater than high end", s)
	}
	return portRange{lo: uint16(loPort), hi: uint16(hiPort)}, nil
}

func parsePortRanges(values []string) ([]portRange, error) {
	ranges := make([]portRange, 0, len(values))
	for _, v := range values {
		r, err := parsePortRange(v)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseCIDRs(values []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		_, ipnet, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", v, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

func parseIPs(values []string) ([]net.IP, error) {
	ips := make([]net.IP, 0, len(values))
	for _, v := range values {
		ip := net.ParseIP(v)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", v)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

// selection is the parsed, validated traffic-selection surface from
// --capture-*/--exempt-*/--local-address. The fields are carried for the
// platform routing layer to act on; the core itself only validates them,
// except localAddress, which run uses as the client's local IP in place of
// the default route's source address.
type selection struct {
	captureIfaces    []string
	captureRanges    []*net.IPNet
	exemptRanges     []*net.IPNet
	captureAddresses []net.IP
	exemptAddresses  []net.IP
	capturePorts     []portRange
	exemptPorts      []portRange
	localAddress     net.IP
}

// options holds the flag-parsed invocation of a single viridian run.
type options struct {
	certificatePath string
	protocol        string
	command         string
	selection       selection
}

// Version is the viridian client's release version, reported in logs.
const Version = "0.0.1"

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("viridian", flag.ContinueOnError)

	opts := &options{}
	fs.StringVar(&opts.certificatePath, "certificate", "", "path to the session certificate issued by the gateway (required)")
	fs.StringVarP(&opts.protocol, "protocol", "p", "typhoon", "data-plane protocol to use: \"port\" or \"typhoon\"")
	fs.StringVarP(&opts.command, "command", "c", "", "command to run for the lifetime of the tunnel; the tunnel closes when it exits")

	captureIfaces := fs.StringSlice("capture-iface", nil, "interfaces whose traffic is captured into the tunnel")
	captureRanges := fs.StringSlice("capture-ranges", nil, "CIDR ranges captured into the tunnel")
	exemptRanges := fs.StringSlice("exempt-ranges", nil, "CIDR ranges exempted from capture")
	captureAddresses := fs.StringSlice("capture-addresses", nil, "individual addresses captured into the tunnel")
	exemptAddresses := fs.StringSlice("exempt-addresses", nil, "individual addresses exempted from capture")
	capturePorts := fs.StringSlice("capture-ports", nil, "ports or N-M port ranges captured into the tunnel")
	exemptPorts := fs.StringSlice("exempt-ports", nil, "ports or N-M port ranges exempted from capture")
	localAddress := fs.String("local-address", "", "local address to bind the tunnel's outbound traffic to")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.certificatePath == "" {
		return nil, fmt.Errorf("--certificate is required")
	}
	if opts.protocol != "port" && opts.protocol != "typhoon" {
		return nil, fmt.Errorf("--protocol must be \"port\" or \"typhoon\", got %q", opts.protocol)
	}

	var err error
	opts.selection.captureIfaces = *captureIfaces
	if opts.selection.captureRanges, err = parseCIDRs(*captureRanges); err != nil {
		return nil, fmt.Errorf("--capture-ranges: %w", err)
	}
	if opts.selection.exemptRanges, err = parseCIDRs(*exemptRanges); err != nil {
		return nil, fmt.Errorf("--exempt-ranges: %w", err)
	}
	if opts.selection.captureAddresses, err = parseIPs(*captureAddresses); err != nil {
		return nil, fmt.Errorf("--capture-addresses: %w", err)
	}
	if opts.selection.exemptAddresses, err = parseIPs(*exemptAddresses); err != nil {
		return nil, fmt.Errorf("--exempt-addresses: %w", err)
	}
	if opts.selection.capturePorts, err = parsePortRanges(*capturePorts); err != nil {
		return nil, fmt.Errorf("--capture-ports: %w", err)
	}
	if opts.selection.exemptPorts, err = parsePortRanges(*exemptPorts); err != nil {
		return nil, fmt.Errorf("--exempt-ports: %w", err)
	}
	if *localAddress != "" {
		ip := net.ParseIP(*localAddress)
		if ip == nil {
			return nil, fmt.Errorf("--local-address: invalid IP address %q", *localAddress)
		}
		opts.selection.localAddress = ip
	}

	return opts, nil
}
