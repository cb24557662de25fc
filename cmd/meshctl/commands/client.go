package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// routeView mirrors cmd/meshnode's admin JSON shape for GET /routes.
type routeView struct {
	Device    string  `json:"device"`
	Parent    string  `json:"parent"`
	RSSI      int8    `json:"rssi"`
	LastSeen  string  `json:"last_seen"`
	Status    string  `json:"status"`
	BatteryMV *uint16 `json:"battery_mv,omitempty"`
}

// countersView mirrors cmd/meshnode's admin JSON shape for GET /counters.
type countersView struct {
	RX    uint64            `json:"rx"`
	TX    uint64            `json:"tx"`
	Drops map[string]uint64 `json:"drops"`
}

// discoverView mirrors cmd/meshnode's admin JSON shape for POST /discover.
type discoverView struct {
	PacketID uint32 `json:"packet_id"`
}

// adminClient is a thin wrapper over meshnode's admin HTTP surface.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func (c *adminClient) Routes() ([]routeView, error) {
	var out []routeView
	if err := c.getJSON("/routes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) Counters() (countersView, error) {
	var out countersView
	if err := c.getJSON("/counters", &out); err != nil {
		return countersView{}, err
	}
	return out, nil
}

func (c *adminClient) Discover() (discoverView, error) {
	var out discoverView
	if err := c.postJSON("/discover", &out); err != nil {
		return discoverView{}, err
	}
	return out, nil
}

func (c *adminClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

func (c *adminClient) postJSON(path string, out any) error {
	resp, err := c.http.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("POST %s: decode response: %w", path, err)
	}
	return nil
}
