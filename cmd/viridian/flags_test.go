package main

import "testing"

func TestParseFlagsRequiresCertificate(t *testing.T) {
	_, err := parseFlags([]string{"--protocol", "port"})
	if err == nil {
		t.Fatal("expected an error when --certificate is omitted")
	}
}

func TestParseFlagsRejectsUnknownProtocol(t *testing.T) {
	_, err := parseFlags([]string{"--certificate", "cert.bin", "--protocol", "bogus"})
	if err == nil {
		t.Fatal("expected an error for an unknown protocol")
	}
}

func TestParseFlagsDefaultsToTyphoon(t *testing.T) {
	opts, err := parseFlags([]string{"--certificate", "cert.bin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.protocol != "typhoon" {
		t.Errorf("protocol = %q, want %q", opts.protocol, "typhoon")
	}
}

func TestParseFlagsAcceptsCommand(t *testing.T) {
	opts, err := parseFlags([]string{"--certificate", "cert.bin", "--command", "curl example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.command != "curl example.com" {
		t.Errorf("command = %q, want %q", opts.command, "curl example.com")
	}
}

func TestParsePortRangeSinglePort(t *testing.T) {
	r, err := parsePortRange("443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.lo != 443 || r.hi != 443 {
		t.Errorf("got %+v, want lo=hi=443", r)
	}
}

func TestParsePortRangeValidRange(t *testing.T) {
	r, err := parsePortRange("1000-2000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.lo != 1000 || r.hi != 2000 {
		t.Errorf("got %+v, want lo=1000 hi=2000", r)
	}
}

func TestParsePortRangeRejectsInverted(t *testing.T) {
	if _, err := parsePortRange("2000-1000"); err == nil {
		t.Fatal("expected an error when low end exceeds high end")
	}
}

func TestParsePortRangeRejectsGarbage(t *testing.T) {
	if _, err := parsePortRange("not-a-port"); err == nil {
		t.Fatal("expected an error for a non-numeric port")
	}
}

func TestParseFlagsRejectsInvertedCapturePortRange(t *testing.T) {
	_, err := parseFlags([]string{"--certificate", "cert.bin", "--capture-ports", "9000-80"})
	if err == nil {
		t.Fatal("expected an error for an inverted --capture-ports range")
	}
}

func TestParseFlagsAcceptsSelectionSurface(t *testing.T) {
	opts, err := parseFlags([]string{
		"--certificate", "cert.bin",
		"--capture-iface", "eth0",
		"--capture-ranges", "10.0.0.0/8",
		"--exempt-ranges", "192.168.0.0/16",
		"--capture-addresses", "1.2.3.4",
		"--exempt-addresses", "5.6.7.8",
		"--capture-ports", "80",
		"--exempt-ports", "1000-2000",
		"--local-address", "10.1.1.1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.selection.captureIfaces) != 1 || opts.selection.captureIfaces[0] != "eth0" {
		t.Errorf("captureIfaces = %v", opts.selection.captureIfaces)
	}
	if len(opts.selection.captureRanges) != 1 {
		t.Errorf("captureRanges = %v", opts.selection.captureRanges)
	}
	if len(opts.selection.exemptRanges) != 1 {
		t.Errorf("exemptRanges = %v", opts.selection.exemptRanges)
	}
	if len(opts.selection.captureAddresses) != 1 {
		t.Errorf("captureAddresses = %v", opts.selection.captureAddresses)
	}
	if len(opts.selection.exemptAddresses) != 1 {
		t.Errorf("exemptAddresses = %v", opts.selection.exemptAddresses)
	}
	if len(opts.selection.capturePorts) != 1 || opts.selection.capturePorts[0].lo != 80 {
		t.Errorf("capturePorts = %v", opts.selection.capturePorts)
	}
	if len(opts.selection.exemptPorts) != 1 || opts.selection.exemptPorts[0].hi != 2000 {
		t.Errorf("exemptPorts = %v", opts.selection.exemptPorts)
	}
	if opts.selection.localAddress == nil || opts.selection.localAddress.String() != "10.1.1.1" {
		t.Errorf("localAddress = %v", opts.selection.localAddress)
	}
}

func TestParseFlagsRejectsBadCIDR(t *testing.T) {
	_, err := parseFlags([]string{"--certificate", "cert.bin", "--capture-ranges", "not-a-cidr"})
	if err == nil {
		t.Fatal("expected an error for an invalid CIDR")
	}
}

func TestParseFlagsRejectsBadLocalAddress(t *testing.T) {
	_, err := parseFlags([]string{"--certificate", "cert.bin", "--local-address", "not-an-ip"})
	if err == nil {
		t.Fatal("expected an error for an invalid --local-address")
	}
}
