package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lumibeat/lumibeat/internal/device"
)

// discoveryURL is a variable so tests can point it at a local server.
var discoveryURL = "https://discovery.meethue.com/"

// Discover queries the vendor discovery endpoint for bridges on the
// local network. Each bridge is reported as one discovered device; the
// embedder picks a light id and pairs before the device can connect.
func Discover(ctx context.Context) ([]device.DiscoveredDevice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hue: discovery request failed: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hue: discovery endpoint returned status %d", resp.StatusCode)
	}

	var bridges []struct {
		ID                string `json:"id"`
		InternalIPAddress string `json:"internalipaddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bridges); err != nil {
		return nil, fmt.Errorf("hue: unparseable discovery response: %w", err)
	}

	found := make([]device.DiscoveredDevice, 0, len(bridges))
	for _, b := range bridges {
		if b.InternalIPAddress == "" {
			continue
		}
		found = append(found, device.DiscoveredDevice{
			ID:           "hue-" + b.ID,
			Kind:         device.KindHue,
			Address:      b.InternalIPAddress,
			Model:        "bridge",
			Capabilities: device.CapColor | device.CapBrightness | device.CapTemperature | device.CapEffects,
		})
	}
	return found, nil
}

// Pair requests an application username from the bridge. Until the
// physical link button has been pressed this returns ErrLinkButton.
func Pair(ctx context.Context, host, deviceType string) (string, error) {
	payload, err := json.Marshal(map[string]string{"devicetype": deviceType})
	if err != nil {
		return "", err
	}

	//goland:noinspection HttpUrlsUsage
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+host+"/api", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hue: pairing request failed: %w", err)
	}
	defer closeBody(resp.Body)

	var results []struct {
		Success *struct {
			Username string `json:"username"`
		} `json:"success"`
		Error *struct {
			Type        int    `json:"type"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("hue: unparseable pairing response: %w", err)
	}

	for _, r := range results {
		if r.Success != nil && r.Success.Username != "" {
			return r.Success.Username, nil
		}
		if r.Error != nil {
			if r.Error.Type == linkButtonErrorType {
				return "", ErrLinkButton
			}
			return "", fmt.Errorf("hue: pairing error %d: %s", r.Error.Type, r.Error.Description)
		}
	}
	return "", fmt.Errorf("hue: empty pairing response")
}
