// Package kasa drives TP-Link Kasa plugs and bulbs. Discovery is a UDP
// broadcast of the obfuscated sysinfo query on port 9999; control is
// the same obfuscation over TCP with a 4-byte big-endian length prefix.
package kasa

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/lumibeat/lumibeat/internal/device"
)

const (
	port = "9999"

	// maxFrame bounds a response frame; sysinfo replies are ~1 KB.
	maxFrame = 1 << 16
)

const sysinfoQuery = `{"system":{"get_sysinfo":{}}}`

func init() {
	device.Register(device.KindKasa, func(address string) (device.Backend, error) {
		return NewClient(address), nil
	}, Discover)
}

// Client is a Kasa device client. Each command opens a short-lived TCP
// connection, matching the firmware's one-shot request model.
type Client struct {
	address    string
	transition time.Duration
	dialer     net.Dialer
}

// Ensure Client implements the backend interface
var _ device.Backend = (*Client)(nil)

// NewClient creates a client for a device address ("host" or
// "host:port").
func NewClient(address string) *Client {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, port)
	}
	return &Client{address: address}
}

// Kind returns the device kind.
func (c *Client) Kind() device.Kind { return device.KindKasa }

// Capabilities returns the static capability bitset. Effects are not
// part of the vendor protocol.
func (c *Client) Capabilities() device.Capability {
	return device.CapColor | device.CapBrightness
}

// Connect verifies the device answers a sysinfo query.
func (c *Client) Connect(ctx context.Context) error {
	return c.Ping(ctx)
}

// Close releases resources; connections are per-call so nothing is held.
func (c *Client) Close() error { return nil }

// SetColor drives bulbs through transition_light_state in HSV terms.
func (c *Client) SetColor(ctx context.Context, r, g, b uint8) error {
	h, s, v := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}.Hsv()
	state := map[string]interface{}{
		"on_off":     1,
		"hue":        int(math.Round(h)),
		"saturation": int(math.Round(s * 100)),
		"brightness": int(math.Round(v * 100)),
		"color_temp": 0,
	}
	if c.transition > 0 {
		state["transition_period_ms"] = int(c.transition.Milliseconds())
	}
	_, err := c.call(ctx, map[string]interface{}{
		"smartlife.iot.smartbulb.lightingservice": map[string]interface{}{
			"transition_light_state": state,
		},
	})
	return err
}

// SetBrightness rescales the canonical 0..255 level to the vendor's
// 1..100 range.
func (c *Client) SetBrightness(ctx context.Context, level uint8) error {
	b := int(math.Round(float64(level) * 100 / 255))
	if b < 1 {
		b = 1
	}
	_, err := c.call(ctx, map[string]interface{}{
		"smartlife.iot.dimmer": map[string]interface{}{
			"set_brightness": map[string]interface{}{"brightness": b},
		},
	})
	return err
}

// SetEffect is not part of the Kasa protocol.
func (c *Client) SetEffect(ctx context.Context, name string) error {
	return fmt.Errorf("kasa: effect %q: %w", name, device.ErrUnsupported)
}

// Power toggles the relay.
func (c *Client) Power(ctx context.Context, on bool) error {
	state := 0
	if on {
		state = 1
	}
	_, err := c.call(ctx, map[string]interface{}{
		"system": map[string]interface{}{
			"set_relay_state": map[string]interface{}{"state": state},
		},
	})
	return err
}

// SetTransition stores the fade duration applied to subsequent color
// changes.
func (c *Client) SetTransition(_ context.Context, d time.Duration) error {
	c.transition = d
	return nil
}

// Ping issues a sysinfo query.
func (c *Client) Ping(ctx context.Context) error {
	var q map[string]interface{}
	if err := json.Unmarshal([]byte(sysinfoQuery), &q); err != nil {
		return err
	}
	_, err := c.call(ctx, q)
	return err
}

// call sends one obfuscated JSON request over TCP and returns the
// decoded response.
func (c *Client) call(ctx context.Context, payload map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, &device.UnreachableError{Err: err}
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], scramble(data))
	if _, err := conn.Write(frame); err != nil {
		return nil, &device.UnreachableError{Err: err}
	}

	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, &device.UnreachableError{Err: err}
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxFrame {
		return nil, &device.ProtocolError{Detail: fmt.Sprintf("implausible frame length %d", size)}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, &device.UnreachableError{Err: err}
	}

	plain := unscramble(body)
	if err := checkErrCode(plain); err != nil {
		return nil, err
	}
	return plain, nil
}

// checkErrCode walks the two-level vendor response looking for a
// non-zero err_code.
func checkErrCode(data []byte) error {
	var outer map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return &device.ProtocolError{Detail: fmt.Sprintf("unparseable response: %v", err)}
	}
	for _, section := range outer {
		for op, raw := range section {
			var result struct {
				ErrCode *int `json:"err_code"`
			}
			if err := json.Unmarshal(raw, &result); err != nil {
				continue
			}
			if result.ErrCode != nil && *result.ErrCode != 0 {
				return &device.ProtocolError{Detail: fmt.Sprintf("%s err_code %d", op, *result.ErrCode)}
			}
		}
	}
	return nil
}
