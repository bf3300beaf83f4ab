package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"phasetrack/production"
	"phasetrack/session"
)

// Client talks to the core API as one operator. Each operator gets its own
// client because identity is carried by the session cookie.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
	username   string
}

var _ Backend = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Username returns the operator the client is logged in as.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Reconfigure updates the client's base URL and timeout for hot-reload.
func (c *Client) Reconfigure(baseURL string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.httpClient.Timeout = timeout
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, bodyReader)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("backend %s %s: %w", method, path, ctx.Err())
		}
		return fmt.Errorf("backend %s %s: %w: %v", method, path, ErrTransient, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, method, path, result)
}

func (c *Client) decode(resp *http.Response, method, path string, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend read body: %w: %v", ErrTransient, err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if result == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	data, err = Normalize(data)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("backend decode %s: %w", path, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Login authenticates the operator and stores the session cookie.
func (c *Client) Login(ctx context.Context, username, password string) error {
	req := map[string]string{"username": username, "password": password}
	if err := c.post(ctx, "/api/login", req, nil); err != nil {
		return fmt.Errorf("login %s: %w", username, err)
	}
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	return nil
}

// Logout ends the server session.
func (c *Client) Logout(ctx context.Context) error {
	err := c.post(ctx, "/api/logout", nil, nil)
	c.mu.Lock()
	c.username = ""
	c.mu.Unlock()
	return err
}

func (c *Client) GetLiveStatus(ctx context.Context) (*session.LiveStatus, error) {
	var ls session.LiveStatus
	if err := c.get(ctx, "/api/live-status", &ls); err != nil {
		return nil, err
	}
	return &ls, nil
}

func (c *Client) GetMyActivePhase(ctx context.Context) (*session.ActivePhase, error) {
	var ap session.ActivePhase
	if err := c.get(ctx, "/api/active-phase", &ap); err != nil {
		return nil, err
	}
	return &ap, nil
}

func (c *Client) StartLivePhase(ctx context.Context, req LivePhaseRequest) (time.Time, error) {
	var resp struct {
		StartTime time.Time `json:"start_time"`
	}
	if err := c.post(ctx, "/api/live-phase/start", req, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.StartTime, nil
}

func (c *Client) StopLivePhase(ctx context.Context, username string) error {
	return c.post(ctx, "/api/live-phase/stop", map[string]string{"username": username}, nil)
}

func (c *Client) StartPhase(ctx context.Context, req StartPhaseRequest) (*production.PhaseLog, error) {
	var log production.PhaseLog
	if err := c.post(ctx, "/api/phase-logs", req, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

func (c *Client) FinishPhase(ctx context.Context, req FinishPhaseRequest) error {
	return c.post(ctx, "/api/phase-logs/"+strconv.FormatInt(req.ID, 10)+"/finish", req, nil)
}

func (c *Client) StartDeadTime(ctx context.Context, req DeadTimeRequest) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/api/dead-times", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) FinishDeadTime(ctx context.Context, id int64) error {
	return c.post(ctx, "/api/dead-times/"+strconv.FormatInt(id, 10)+"/finish", nil, nil)
}

func (c *Client) GetProductionSheetByQr(ctx context.Context, code string) (*production.ProductionSheet, error) {
	var sheet production.ProductionSheet
	if err := c.get(ctx, "/api/sheets/by-qr?code="+url.QueryEscape(code), &sheet); err != nil {
		return nil, err
	}
	return &sheet, nil
}

func (c *Client) SaveMultiSession(ctx context.Context, ms MultiSession) error {
	return c.do(ctx, http.MethodPut, "/api/multi-session", ms, nil)
}

func (c *Client) GetMyMultiSession(ctx context.Context) (*MultiSession, error) {
	var resp struct {
		Session *MultiSession `json:"session"`
	}
	if err := c.get(ctx, "/api/multi-session", &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

func (c *Client) ClearMyMultiSession(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/multi-session", nil, nil)
}
