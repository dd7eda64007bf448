package timerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"task-timer/internal/adapter/sse"
	"task-timer/internal/broadcast"
	"task-timer/internal/domain"
)

// Client talks to a running task-timer server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client // no overall timeout; streams stay open
	log     *slog.Logger
	retry   time.Duration // first reconnect delay
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("timer api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("timer api: unexpected status %d", e.Status)
}

func NewClient(baseURL, token string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		stream: &http.Client{},
		log:    log,
		retry:  time.Second,
	}
}

// View fetches the current timer view of a task.
// GET /api/tasks/{id}/timer
func (c *Client) View(ctx context.Context, taskID string) (domain.View, error) {
	return c.call(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID)+"/timer")
}

// Do runs a timer action: start, pause, resume or stop.
// POST /api/tasks/{id}/timer/{action}
func (c *Client) Do(ctx context.Context, taskID, action string) (domain.View, error) {
	switch action {
	case "start", "pause", "resume", "stop":
	default:
		return domain.View{}, fmt.Errorf("unknown timer action %q", action)
	}
	return c.call(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/timer/"+action)
}

func (c *Client) call(ctx context.Context, method, path string) (domain.View, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return domain.View{}, err
	}
	u.Path = path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return domain.View{}, err
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.View{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.View{}, decodeError(resp)
	}
	var body struct {
		TaskView domain.View `json:"taskView"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.View{}, err
	}
	return body.TaskView, nil
}

// Watch streams pushed views of a task to onView until ctx is done. Dropped
// connections are retried with exponential backoff (1s doubling, capped at
// 30s, reset after each successful connect). Every connect also fetches the
// current view, since updates published while disconnected are not replayed.
// Authorization and not-found replies end the watch.
func (c *Client) Watch(ctx context.Context, taskID string, onView func(domain.View)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	op := func() error {
		err := c.streamOnce(ctx, taskID, b.Reset, onView)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("stream disconnected, reconnecting",
			slog.String("task_id", taskID),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) streamOnce(ctx context.Context, taskID string, onConnect func(), onView func(domain.View)) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u.Path = "/api/tasks/stream"
	q := u.Query()
	q.Set("taskId", taskID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	onConnect()
	c.log.Debug("stream connected", slog.String("task_id", taskID))

	// Subscribed first, then read, so nothing falls between the two.
	v, err := c.View(ctx, taskID)
	if err != nil {
		return err
	}
	onView(v)

	return sse.Read(resp.Body, func(m sse.Message) error {
		if m.Data == nil {
			return nil
		}
		var ev broadcast.Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			c.log.Warn("stream: bad event", slog.String("error", err.Error()))
			return nil
		}
		if ev.Type == broadcast.EventTaskUpdated && ev.TaskID == taskID {
			onView(ev.Payload)
		}
		return nil
	})
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = string(body)
	}
	return apiErr
}
