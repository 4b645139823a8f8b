package vm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultPublicDomain = "vm.freestyle.sh"

// FreestyleClient talks to a Freestyle-style VM rental API.
type FreestyleClient struct {
	BaseURL      string
	APIKey       string
	PublicDomain string
	HTTP         *http.Client
}

func NewFreestyleClient(baseURL, apiKey, publicDomain string) *FreestyleClient {
	if publicDomain == "" {
		publicDomain = defaultPublicDomain
	}
	return &FreestyleClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		PublicDomain: publicDomain,
		// exec-await blocks until the command exits; installs can take minutes.
		HTTP: &http.Client{Timeout: 15 * time.Minute},
	}
}

type createVMResp struct {
	ID string `json:"id"`
}

type execAwaitResp struct {
	Stdout     *string `json:"stdout"`
	Stderr     *string `json:"stderr"`
	StatusCode *int    `json:"statusCode"`
}

func (c *FreestyleClient) Create(ctx context.Context) (VM, error) {
	var out createVMResp
	if err := c.post(ctx, "/vms", map[string]any{"workdir": "/"}, &out); err != nil {
		return VM{}, fmt.Errorf("create vm: %w", err)
	}
	if out.ID == "" {
		return VM{}, errors.New("create vm: response has no id")
	}
	return VM{ID: out.ID}, nil
}

func (c *FreestyleClient) Exec(ctx context.Context, vmID, command string) (ExecResult, error) {
	var out execAwaitResp
	path := "/vms/" + url.PathEscape(vmID) + "/exec-await"
	if err := c.post(ctx, path, map[string]any{"command": command}, &out); err != nil {
		return ExecResult{}, fmt.Errorf("exec on vm %s: %w", vmID, err)
	}
	res := ExecResult{}
	if out.Stdout != nil {
		res.Stdout = *out.Stdout
	}
	if out.Stderr != nil {
		res.Stderr = *out.Stderr
	}
	if out.StatusCode != nil {
		res.StatusCode = *out.StatusCode
	}
	return res, nil
}

func (c *FreestyleClient) PublicURL(vmID string) string {
	return fmt.Sprintf("https://%s.%s", vmID, c.PublicDomain)
}

func (c *FreestyleClient) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vm api status=%d body=%s", resp.StatusCode, truncate(string(raw), 512))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode vm api response (%s): %w", truncate(string(raw), 512), err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
