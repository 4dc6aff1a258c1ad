package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"csync/internal/server"
	"csync/pkg/types"
)

// ErrNotFound mirrors the store's not-found condition on the client side.
var ErrNotFound = errors.New("not found")

// Client is a thin HTTP client for the csyncd API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(server string) *Client {
	return &Client{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Metadata(ctx context.Context) (*types.MetadataList, error) {
	var list types.MetadataList
	if err := c.getJSON(ctx, "/v1/metadata", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) State(ctx context.Context) (*types.State, error) {
	var state types.State
	if err := c.getJSON(ctx, "/v1/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) Blob(ctx context.Context, id string) (*types.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/blob/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	typ, err := types.ParseBlobType(resp.Header.Get(server.HeaderBlobType))
	if err != nil {
		return nil, fmt.Errorf("bad response: %w", err)
	}

	var fileMode uint64
	if m := resp.Header.Get(server.HeaderFileMode); m != "" {
		fileMode, _ = strconv.ParseUint(m, 8, 32)
	}

	return &types.Blob{
		Data:     data,
		Hash:     resp.Header.Get(server.HeaderBlobSha),
		Type:     typ,
		FileName: resp.Header.Get(server.HeaderFileName),
		FileMode: uint32(fileMode),
	}, nil
}

func (c *Client) Put(ctx context.Context, ev types.Event) (*types.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+"/v1/blob", bytes.NewReader(ev.Payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(server.HeaderBlobType, ev.Type.String())
	if ev.FileName != "" {
		req.Header.Set(server.HeaderFileName, ev.FileName)
		req.Header.Set(server.HeaderFileMode, strconv.FormatUint(uint64(ev.FileMode), 8))
	}
	if ev.Source != "" {
		req.Header.Set(server.HeaderSource, ev.Source)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var meta types.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &meta, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/blob/"+id)
}

func (c *Client) Pin(ctx context.Context, id string, pinned bool) error {
	if pinned {
		return c.do(ctx, http.MethodPost, "/v1/blob/"+id+"/pin")
	}
	return c.do(ctx, http.MethodDelete, "/v1/blob/"+id+"/pin")
}

func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/clear")
}

// EventsURL returns the websocket endpoint for the event feed.
func (c *Client) EventsURL() string {
	url := c.base + "/v1/events"
	url = strings.Replace(url, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
