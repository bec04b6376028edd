package contracts

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
)

var ErrContractNotFound = errors.New("contract not found")

type ClientConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

// Client talks to the contracts service over its internal HTTP API.
type Client struct {
	cfg    ClientConfig
	client *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetContract(ctx context.Context, id uint64) (*Contract, error) {
	endpoint := c.endpoint("/internal/contracts/" + strconv.FormatUint(id, 10))
	if endpoint == "" {
		return nil, errors.New("contracts service base url is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrContractNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("contracts service get contract failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var contract Contract
	if err := json.Unmarshal(body, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id uint64, update StatusUpdate) error {
	endpoint := c.endpoint("/internal/contracts/" + strconv.FormatUint(id, 10) + "/status")
	if endpoint == "" {
		return errors.New("contracts service base url is not configured")
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrContractNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("contracts service update status failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	if base == "" {
		return ""
	}
	return base + path
}
