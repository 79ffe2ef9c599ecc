package magichome

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/lumibeat/lumibeat/internal/device"
)

// fakeController accepts one connection and records every frame,
// replying with a 4-byte status blob.
type fakeController struct {
	listener net.Listener
	frames   chan []byte
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeController{listener: ln, frames: make(chan []byte, 16)}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			frame := make([]byte, n)
			copy(frame, buf[:n])
			f.frames <- frame
			_, _ = conn.Write([]byte{0x81, 0x44, 0x23, 0x61})
		}
	}()
	return f
}

func (f *fakeController) next(t *testing.T) []byte {
	t.Helper()
	select {
	case frame := <-f.frames:
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func connectedClient(t *testing.T) (*Client, *fakeController) {
	t.Helper()
	f := newFakeController(t)
	c := NewClient(f.listener.Addr().String())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, f
}

func TestColorFrameEncoding(t *testing.T) {
	c, f := connectedClient(t)

	// Red frame: checksum 0x31+0xFF+0x0F = 0x3F
	if err := c.SetColor(context.Background(), 255, 0, 0); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	want := []byte{0x31, 0xFF, 0x00, 0x00, 0x00, 0x0F, 0x3F}
	if got := f.next(t); !bytes.Equal(got, want) {
		t.Errorf("frame = % X, want % X", got, want)
	}
}

func TestPowerFrameEncoding(t *testing.T) {
	c, f := connectedClient(t)
	ctx := context.Background()

	if err := c.Power(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got, want := f.next(t), []byte{0x71, 0x23, 0x0F, 0xA3}; !bytes.Equal(got, want) {
		t.Errorf("on frame = % X, want % X", got, want)
	}

	if err := c.Power(ctx, false); err != nil {
		t.Fatal(err)
	}
	if got, want := f.next(t), []byte{0x71, 0x24, 0x0F, 0xA4}; !bytes.Equal(got, want) {
		t.Errorf("off frame = % X, want % X", got, want)
	}
}

func TestChecksumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := rapid.Byte().Draw(t, "r")
		g := rapid.Byte().Draw(t, "g")
		b := rapid.Byte().Draw(t, "b")

		frame := colorFrame(r, g, b)
		if len(frame) != 7 {
			t.Fatalf("frame length = %d, want 7", len(frame))
		}
		var sum byte
		for _, v := range frame[:len(frame)-1] {
			sum += v
		}
		if frame[len(frame)-1] != sum {
			t.Fatalf("checksum = %#x, want %#x", frame[len(frame)-1], sum)
		}
	})
}

func TestBrightnessScalesLastColor(t *testing.T) {
	c, f := connectedClient(t)
	ctx := context.Background()

	if err := c.SetColor(ctx, 200, 100, 0); err != nil {
		t.Fatal(err)
	}
	f.next(t)

	if err := c.SetBrightness(ctx, 128); err != nil {
		t.Fatal(err)
	}
	frame := f.next(t)
	// 200*128/255=100, 100*128/255=50
	if frame[1] != 100 || frame[2] != 50 || frame[3] != 0 {
		t.Errorf("scaled rgb = %d/%d/%d, want 100/50/0", frame[1], frame[2], frame[3])
	}
}

func TestEffectFrame(t *testing.T) {
	c, f := connectedClient(t)

	if err := c.SetEffect(context.Background(), "seven_color_cross_fade"); err != nil {
		t.Fatal(err)
	}
	frame := f.next(t)
	if frame[0] != opEffect || frame[1] != 0x25 {
		t.Errorf("effect frame = % X", frame)
	}

	if err := c.SetEffect(context.Background(), "nonexistent"); !errors.Is(err, device.ErrUnsupported) {
		t.Errorf("unknown effect error = %v, want ErrUnsupported", err)
	}
}

func TestTransitionUnsupported(t *testing.T) {
	c, _ := connectedClient(t)
	err := c.SetTransition(context.Background(), time.Second)
	if !errors.Is(err, device.ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}

func TestSendBeforeConnect(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	if err := c.SetColor(context.Background(), 1, 2, 3); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestConnectRefused(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	err := c.Connect(context.Background())
	var ue *device.UnreachableError
	if !errors.As(err, &ue) {
		t.Errorf("error = %v, want UnreachableError", err)
	}
}

func TestDiscoveryProbeShape(t *testing.T) {
	if len(discoveryProbe) != 28 {
		t.Fatalf("probe length = %d, want 28", len(discoveryProbe))
	}
	if !bytes.HasPrefix(discoveryProbe, []byte("HF-A11ASSISTHREAD")) {
		t.Errorf("probe = % X", discoveryProbe)
	}
}

func TestParseReply(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: discoveryPort}

	reply := []byte{0xAC, 0xCF, 0x23, 0x11, 0x22, 0x33, 0x02, 0x05}
	dev, ok := parseReply(reply, addr)
	if !ok {
		t.Fatal("expected parse success")
	}
	if dev.ID != "magichome-accf23112233" {
		t.Errorf("id = %q", dev.ID)
	}
	if dev.Address != "10.0.0.9" {
		t.Errorf("address = %q", dev.Address)
	}
	if dev.Model != "controller fw 2.5" {
		t.Errorf("model = %q", dev.Model)
	}

	if _, ok := parseReply([]byte{1, 2, 3}, addr); ok {
		t.Error("short reply should not parse")
	}
}
