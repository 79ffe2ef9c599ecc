package magichome

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/lumibeat/lumibeat/internal/device"
)

const discoveryPort = 48899

// discoveryProbe is the vendor's fixed 28-byte assistant frame: the
// ASCII probe string padded with zeros.
var discoveryProbe = func() []byte {
	frame := make([]byte, 28)
	copy(frame, "HF-A11ASSISTHREAD")
	return frame
}()

// Discover broadcasts the vendor probe and collects controller replies
// until ctx expires. Replies carry the MAC in the first 6 bytes and two
// firmware bytes after it; the controller IP comes from the datagram
// source.
func Discover(ctx context.Context) ([]device.DiscoveredDevice, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	broadcast := &net.UDPAddr{IP: net.IPv4bcast, Port: discoveryPort}
	if _, err := conn.WriteTo(discoveryProbe, broadcast); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = conn.SetReadDeadline(deadline)

	var found []device.DiscoveredDevice
	seen := map[string]bool{}
	buf := make([]byte, 256)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return found, nil
		}
		dev, ok := parseReply(buf[:n], addr)
		if !ok || seen[dev.ID] {
			continue
		}
		seen[dev.ID] = true
		found = append(found, dev)
	}
}

// parseReply extracts MAC and firmware from a discovery reply.
func parseReply(data []byte, addr net.Addr) (device.DiscoveredDevice, bool) {
	if len(data) < 8 {
		return device.DiscoveredDevice{}, false
	}
	mac := hex.EncodeToString(data[:6])
	firmware := fmt.Sprintf("%d.%d", data[6], data[7])

	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return device.DiscoveredDevice{
		ID:           "magichome-" + mac,
		Kind:         device.KindMagicHome,
		Address:      host,
		Model:        "controller fw " + firmware,
		Capabilities: device.CapColor | device.CapBrightness | device.CapEffects,
	}, true
}
