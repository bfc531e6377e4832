package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
)

const defaultRequestTimeout = 10 * time.Second

// ErrNotFound matches any 404 returned by the server.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client is a typed client for the convoy HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://127.0.0.1:8080). An
// empty token sends no Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No client timeout: the event stream is long-lived. Plain calls
		// get defaultRequestTimeout through their context.
		http: &http.Client{},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) Health(ctx context.Context) (HealthzResponse, error) {
	var out HealthzResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &out)
	return out, err
}

func (c *Client) Pools(ctx context.Context) (PoolsResponse, error) {
	var out PoolsResponse
	err := c.do(ctx, http.MethodGet, "/pools", nil, nil, &out)
	return out, err
}

// RegisterPool returns the config as registered, defaults applied.
func (c *Client) RegisterPool(ctx context.Context, cfg pool.Config) (pool.Config, error) {
	var out pool.Config
	err := c.do(ctx, http.MethodPost, "/pools", nil, cfg, &out)
	return out, err
}

func (c *Client) Workers(ctx context.Context, poolID string) (WorkersResponse, error) {
	var out WorkersResponse
	err := c.do(ctx, http.MethodGet, "/pools/"+url.PathEscape(poolID)+"/workers", nil, nil, &out)
	return out, err
}

// PoolTasks lists pending (status "" or "pending") or active tasks.
func (c *Client) PoolTasks(ctx context.Context, poolID, status string) (TasksResponse, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out TasksResponse
	err := c.do(ctx, http.MethodGet, "/pools/"+url.PathEscape(poolID)+"/tasks", q, nil, &out)
	return out, err
}

func (c *Client) Submit(ctx context.Context, def queue.Definition) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/tasks", nil, def, &out)
	return out, err
}

func (c *Client) Task(ctx context.Context, id string) (queue.Task, error) {
	var out queue.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, id, reason string) (CancelResponse, error) {
	q := url.Values{}
	if reason != "" {
		q.Set("reason", reason)
	}
	var out CancelResponse
	err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), q, nil, &out)
	return out, err
}

func (c *Client) Worker(ctx context.Context, id string) (pool.Worker, error) {
	var out pool.Worker
	err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) Log(ctx context.Context, poolID string, limit int) (LogResponse, error) {
	q := url.Values{}
	if poolID != "" {
		q.Set("pool", poolID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out LogResponse
	err := c.do(ctx, http.MethodGet, "/log", q, nil, &out)
	return out, err
}

// Stream follows GET /events, calling fn for every event after lastID
// until ctx is done, the server closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, lastID int64, fn func(StreamEvent) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var (
		ev   StreamEvent
		data strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				ev.Data = json.RawMessage(data.String())
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev = StreamEvent{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id:"):
			ev.ID, _ = strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64)
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line[5:], " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func readStatusError(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode}
	var er ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		se.Message = er.Error
	} else {
		se.Message = strings.TrimSpace(string(b))
	}
	return se
}
