package kasa

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/lumibeat/lumibeat/internal/device"
)

// Discover broadcasts the obfuscated sysinfo query and collects replies
// until ctx expires. UDP datagrams carry the obfuscated JSON without the
// TCP length prefix.
func Discover(ctx context.Context) ([]device.DiscoveredDevice, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	broadcast := &net.UDPAddr{IP: net.IPv4bcast, Port: 9999}
	if _, err := conn.WriteTo(scramble([]byte(sysinfoQuery)), broadcast); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = conn.SetReadDeadline(deadline)

	var found []device.DiscoveredDevice
	seen := map[string]bool{}
	buf := make([]byte, maxFrame)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			// Deadline exhausted: the scan is complete.
			return found, nil
		}
		dev, ok := parseSysinfo(unscramble(buf[:n]), addr)
		if !ok || seen[dev.ID] {
			continue
		}
		seen[dev.ID] = true
		found = append(found, dev)
	}
}

// parseSysinfo extracts identity fields from a sysinfo reply.
func parseSysinfo(data []byte, addr net.Addr) (device.DiscoveredDevice, bool) {
	var reply struct {
		System struct {
			Sysinfo struct {
				Alias    string `json:"alias"`
				Model    string `json:"model"`
				DeviceID string `json:"deviceId"`
				MAC      string `json:"mac"`
			} `json:"get_sysinfo"`
		} `json:"system"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return device.DiscoveredDevice{}, false
	}
	info := reply.System.Sysinfo
	if info.DeviceID == "" && info.MAC == "" {
		return device.DiscoveredDevice{}, false
	}

	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	id := info.DeviceID
	if id == "" {
		id = info.MAC
	}
	return device.DiscoveredDevice{
		ID:           "kasa-" + id,
		Kind:         device.KindKasa,
		Address:      host,
		Model:        info.Model,
		Capabilities: device.CapColor | device.CapBrightness,
	}, true
}
