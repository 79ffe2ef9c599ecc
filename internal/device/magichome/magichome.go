// Package magichome drives MagicHome/flux-style LED controllers over
// their binary TCP protocol on port 5577. Every frame ends with an
// 8-bit checksum: the sum of the preceding bytes mod 256. Controller
// responses are read to keep the socket drained but not validated;
// neither their content nor their length is checked.
package magichome

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lumibeat/lumibeat/internal/device"
)

const (
	controlPort = "5577"

	// Frame opcodes
	opColor  = 0x31
	opPower  = 0x71
	opEffect = 0x61

	powerOn  = 0x23
	powerOff = 0x24

	// frameTail terminates color and power frames before the checksum
	frameTail = 0x0F

	responseLen = 4
)

// effectModes maps published effect names to the controller mode byte.
var effectModes = map[string]byte{
	"seven_color_cross_fade": 0x25,
	"red_gradual_change":     0x26,
	"green_gradual_change":   0x27,
	"blue_gradual_change":    0x28,
	"yellow_gradual_change":  0x29,
	"cyan_gradual_change":    0x2A,
	"purple_gradual_change":  0x2B,
	"white_gradual_change":   0x2C,
	"seven_color_strobe":     0x30,
	"seven_color_jumping":    0x38,
}

// defaultEffectSpeed is the mid-range speed byte (1 fast .. 31 slow).
const defaultEffectSpeed = 0x10

func init() {
	device.Register(device.KindMagicHome, func(address string) (device.Backend, error) {
		return NewClient(address), nil
	}, Discover)
}

// Client is a MagicHome controller client holding one TCP connection.
type Client struct {
	address string
	conn    net.Conn
	dialer  net.Dialer

	// last color sent, used to express brightness as RGB scaling
	r, g, b uint8
}

// Ensure Client implements the backend interface
var _ device.Backend = (*Client)(nil)

// NewClient creates a client for a controller address ("host" or
// "host:port").
func NewClient(address string) *Client {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, controlPort)
	}
	return &Client{address: address, r: 255, g: 255, b: 255}
}

// Kind returns the device kind.
func (c *Client) Kind() device.Kind { return device.KindMagicHome }

// Capabilities returns the static capability bitset.
func (c *Client) Capabilities() device.Capability {
	return device.CapColor | device.CapBrightness | device.CapEffects
}

// Connect dials the controller.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return &device.UnreachableError{Err: err}
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	return nil
}

// Close drops the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SetColor sends a color frame and remembers it for brightness scaling.
func (c *Client) SetColor(ctx context.Context, r, g, b uint8) error {
	if err := c.send(ctx, colorFrame(r, g, b)); err != nil {
		return err
	}
	c.r, c.g, c.b = r, g, b
	return nil
}

// SetBrightness scales the last color by level/255. The protocol has no
// separate brightness register.
func (c *Client) SetBrightness(ctx context.Context, level uint8) error {
	scale := func(v uint8) uint8 {
		return uint8(uint16(v) * uint16(level) / 255)
	}
	return c.send(ctx, colorFrame(scale(c.r), scale(c.g), scale(c.b)))
}

// SetEffect selects a built-in pattern by published name.
func (c *Client) SetEffect(ctx context.Context, name string) error {
	mode, ok := effectModes[name]
	if !ok {
		return fmt.Errorf("magichome: effect %q: %w", name, device.ErrUnsupported)
	}
	return c.send(ctx, checksummed([]byte{opEffect, mode, defaultEffectSpeed, frameTail}))
}

// Power sends the on/off frame.
func (c *Client) Power(ctx context.Context, on bool) error {
	state := byte(powerOff)
	if on {
		state = powerOn
	}
	return c.send(ctx, checksummed([]byte{opPower, state, frameTail}))
}

// SetTransition is not expressible in the wire protocol; fades happen
// controller-side only for built-in effects.
func (c *Client) SetTransition(context.Context, time.Duration) error {
	return fmt.Errorf("magichome: set_transition: %w", device.ErrUnsupported)
}

// Ping re-sends the last color as a no-visible-change probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, colorFrame(c.r, c.g, c.b))
}

// colorFrame builds [0x31 R G B 0x00 0x0F CS].
func colorFrame(r, g, b uint8) []byte {
	return checksummed([]byte{opColor, r, g, b, 0x00, frameTail})
}

// checksummed appends the 8-bit sum of the frame bytes.
func checksummed(frame []byte) []byte {
	var sum byte
	for _, b := range frame {
		sum += b
	}
	return append(frame, sum)
}

// send writes one frame and drains the short status response. Response
// content is not validated; a closed or broken socket surfaces as
// unreachable so the scheduler reconnects.
func (c *Client) send(ctx context.Context, frame []byte) error {
	if c.conn == nil {
		return device.ErrNotConnected
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(frame); err != nil {
		_ = c.Close()
		return &device.UnreachableError{Err: err}
	}

	var resp [responseLen]byte
	if n, err := c.conn.Read(resp[:]); err != nil || n == 0 {
		// Controllers reply with a short status blob; silence is
		// tolerated, a hard error is not.
		if err != nil {
			if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
				return nil
			}
			_ = c.Close()
			return &device.UnreachableError{Err: err}
		}
	}
	return nil
}
