// SPDX-License-Identifier: BSD-2-Clause

// Package config parses the nosip plugin configuration file: a
// key=value INI file with a single [general] section.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	DefaultRTPPortMin = 10000
	DefaultRTPPortMax = 60000
)

// Config holds the process-wide settings read from the [general] section.
type Config struct {
	LocalIP      net.IP
	RTPPortMin   int
	RTPPortMax   int
	EventsEnabled bool
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}

	sec := f.Section("general")
	cfg := &Config{
		RTPPortMin:    DefaultRTPPortMin,
		RTPPortMax:    DefaultRTPPortMax,
		EventsEnabled: sec.Key("events").MustBool(false),
	}

	if v := sec.Key("rtp_port_range").String(); v != "" {
		min, max, err := parsePortRange(v)
		if err != nil {
			return nil, fmt.Errorf("config: rtp_port_range: %w", err)
		}
		cfg.RTPPortMin, cfg.RTPPortMax = min, max
	}

	cfg.LocalIP = resolveLocalIP(sec.Key("local_ip").String())
	return cfg, nil
}

func parsePortRange(v string) (min, max int, err error) {
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range %q, want min-max", v)
	}
	min, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad min port: %w", err)
	}
	max, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad max port: %w", err)
	}
	if max == 0 {
		max = 65535
	}
	if min > max {
		min, max = max, min
	}
	return min, max, nil
}

// resolveLocalIP accepts an IPv4 literal, an interface name, or falls
// back to auto-detecting the address used for outbound traffic.
func resolveLocalIP(v string) net.IP {
	if v != "" {
		if ip := net.ParseIP(v); ip != nil {
			return ip
		}
		if iface, err := net.InterfaceByName(v); err == nil {
			if ip := firstIPv4(iface); ip != nil {
				return ip
			}
		}
	}
	return autodetectLocalIP()
}

func firstIPv4(iface *net.Interface) net.IP {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}

// autodetectLocalIP opens a connectionless UDP dial to a public address
// and reads back the kernel-chosen outbound source address. No packets
// are actually sent for UDP dials, so this is side-effect free.
func autodetectLocalIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return net.IPv4(127, 0, 0, 1)
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP
}
