// Package hue drives Philips Hue lights through the bridge's HTTP JSON
// API. The address format is "username@host/lightID"; pairing to obtain
// the username is a separate one-time step (see Pair).
package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/lumibeat/lumibeat/internal/device"
)

// ErrLinkButton is returned by Pair until the physical bridge button has
// been pressed.
var ErrLinkButton = errors.New("hue: press the bridge link button and retry")

const (
	// linkButtonErrorType is the bridge's error code for unpressed button
	linkButtonErrorType = 101

	defaultTimeout = 5 * time.Second
)

func init() {
	device.Register(device.KindHue, func(address string) (device.Backend, error) {
		return NewClient(address)
	}, Discover)
}

// Client is a Hue bridge client scoped to a single light.
type Client struct {
	baseURL    string // http://host/api/username
	lightID    string
	httpClient *http.Client
	connected  bool
}

// Ensure Client implements the backend interface
var _ device.Backend = (*Client)(nil)

// NewClient parses a "username@host/lightID" address into a client.
func NewClient(address string) (*Client, error) {
	user, rest, ok := strings.Cut(address, "@")
	if !ok {
		return nil, fmt.Errorf("hue: address %q missing username (want username@host/light)", address)
	}
	host, light, ok := strings.Cut(rest, "/")
	if !ok || host == "" || light == "" {
		return nil, fmt.Errorf("hue: address %q missing light id (want username@host/light)", address)
	}

	//goland:noinspection HttpUrlsUsage
	return &Client{
		baseURL:    "http://" + host + "/api/" + user,
		lightID:    light,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Kind returns the device kind.
func (c *Client) Kind() device.Kind { return device.KindHue }

// Capabilities returns the static capability bitset.
func (c *Client) Capabilities() device.Capability {
	return device.CapColor | device.CapBrightness | device.CapTemperature | device.CapEffects
}

// Connect verifies the light is reachable through the bridge.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}
	c.connected = true
	return nil
}

// Close releases the connection. HTTP is stateless so this only flips
// the connected flag.
func (c *Client) Close() error {
	c.connected = false
	return nil
}

// SetColor translates RGB to the bridge's hue/sat model.
func (c *Client) SetColor(ctx context.Context, r, g, b uint8) error {
	h, s, _ := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}.Hsv()
	body := map[string]interface{}{
		"on":  true,
		"hue": int(h / 360 * 65535),
		"sat": int(s * 254),
	}
	return c.putState(ctx, body)
}

// SetBrightness maps the canonical 0..255 level to bri 0..254.
func (c *Client) SetBrightness(ctx context.Context, level uint8) error {
	bri := int(level)
	if bri > 254 {
		bri = 254
	}
	return c.putState(ctx, map[string]interface{}{"on": bri > 0, "bri": bri})
}

// SetEffect starts or stops the bridge-side colorloop.
func (c *Client) SetEffect(ctx context.Context, name string) error {
	if name != "colorloop" && name != "none" {
		return fmt.Errorf("hue: effect %q: %w", name, device.ErrUnsupported)
	}
	return c.putState(ctx, map[string]interface{}{"effect": name})
}

// Power switches the light on or off.
func (c *Client) Power(ctx context.Context, on bool) error {
	return c.putState(ctx, map[string]interface{}{"on": on})
}

// SetTransition sets the fade duration as the bridge's transitiontime,
// counted in 100 ms steps (milliseconds / 100, truncated).
func (c *Client) SetTransition(ctx context.Context, d time.Duration) error {
	return c.putState(ctx, map[string]interface{}{"transitiontime": int(d.Milliseconds() / 100)})
}

// Ping fetches the light resource as a cheap liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lights/"+c.lightID, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &device.UnreachableError{Err: err}
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &device.ProtocolError{Detail: fmt.Sprintf("bridge returned status %d", resp.StatusCode)}
	}
	return nil
}

// putState PUTs a JSON body to the light's state endpoint and surfaces
// bridge-level error objects.
func (c *Client) putState(ctx context.Context, body map[string]interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hue: failed to marshal state: %w", err)
	}

	url := c.baseURL + "/lights/" + c.lightID + "/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &device.UnreachableError{Err: err}
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &device.ProtocolError{Detail: fmt.Sprintf("bridge returned status %d", resp.StatusCode)}
	}

	var results []struct {
		Error *struct {
			Type        int    `json:"type"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return &device.ProtocolError{Detail: fmt.Sprintf("unparseable bridge response: %v", err)}
	}
	for _, r := range results {
		if r.Error != nil {
			return &device.ProtocolError{Detail: fmt.Sprintf("bridge error %d: %s", r.Error.Type, r.Error.Description)}
		}
	}
	return nil
}

func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
