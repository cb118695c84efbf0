package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"village/model"
)

const defaultTimeout = 10 * time.Second

// Client calls the server's procedures over HTTP. Calls are not retried; a
// circuit breaker stops hammering a service that keeps failing.
type Client struct {
	base    string
	hc      *http.Client
	cb      *gobreaker.CircuitBreaker
	log     *slog.Logger
	timeout time.Duration
}

type Option func(*Client)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithHTTPClient replaces the transport. The bearer credential is then the
// caller's business.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// NewClient returns a client for the server at baseURL. Requests carry the
// token from ts as a bearer credential; ts may be nil for anonymous use.
func NewClient(baseURL string, ts oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if ts != nil {
		c.hc = &http.Client{Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport}}
	} else {
		c.hc = &http.Client{}
	}
	for _, o := range opts {
		o(c)
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "village-gateway",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the service
			return err == nil || !retryable(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  Kind            `json:"code"`
}

// call posts body to the procedure and decodes the envelope into a Result.
func call[T any](ctx context.Context, c *Client, proc string, body any) Result[T] {
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.do(ctx, proc, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Op: proc, Kind: KindTransport, Message: "service unavailable: " + err.Error(), Err: err}
		}
		return Fail[T](err)
	}
	var v T
	raw, _ := out.(json.RawMessage)
	if len(raw) == 0 || string(raw) == "null" {
		return Ok(v)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Fail[T](&Error{Op: proc, Kind: KindServer, Message: "decode response: " + err.Error(), Err: err})
	}
	return Ok(v)
}

func (c *Client) do(ctx context.Context, proc string, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Op: proc, Kind: KindInvalid, Message: err.Error(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/functions/v1/"+proc, bytes.NewReader(b))
	if err != nil {
		return nil, &Error{Op: proc, Kind: KindTransport, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		// the token source refuses before anything is sent when signed out
		if errors.Is(err, model.ErrUnauthorized) {
			return nil, &Error{Op: proc, Kind: KindUnauthorized, Message: err.Error(), Err: err}
		}
		c.log.Warn("gateway call failed", "proc", proc, "err", err)
		return nil, &Error{Op: proc, Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(res.Body, 8<<20)).Decode(&env); err != nil && res.StatusCode < 300 {
		return nil, &Error{Op: proc, Kind: KindServer, Message: "decode envelope: " + err.Error(), Err: err}
	}
	c.log.Debug("gateway call", "proc", proc, "status", res.StatusCode, "dur", time.Since(start))

	if res.StatusCode >= 300 || env.Error != "" {
		kind := env.Code
		if kind == "" {
			kind = KindFromStatus(res.StatusCode)
		}
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return nil, &Error{Op: proc, Kind: kind, Message: msg}
	}
	return env.Data, nil
}

func (c *Client) CreateList(ctx context.Context, req CreateListRequest) (model.List, error) {
	return call[model.List](ctx, c, ProcCreateList, req).Unwrap()
}

func (c *Client) GetUserLists(ctx context.Context) ([]model.List, error) {
	return call[[]model.List](ctx, c, ProcGetUserLists, struct{}{}).Unwrap()
}

func (c *Client) DeleteList(ctx context.Context, listID string) error {
	_, err := call[struct{}](ctx, c, ProcDeleteList, ListRef{ListID: listID}).Unwrap()
	return err
}

func (c *Client) ModifyList(ctx context.Context, listID string, patch ListPatch) (model.List, error) {
	return call[model.List](ctx, c, ProcModifyList, ModifyListRequest{ListID: listID, ListPatch: patch}).Unwrap()
}

func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (model.Task, error) {
	return call[model.Task](ctx, c, ProcCreateTask, req).Unwrap()
}

func (c *Client) GetListTasks(ctx context.Context, listID string) ([]model.Task, error) {
	return call[[]model.Task](ctx, c, ProcGetListTasks, ListRef{ListID: listID}).Unwrap()
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	_, err := call[struct{}](ctx, c, ProcDeleteTask, TaskRef{TaskID: taskID}).Unwrap()
	return err
}

func (c *Client) ModifyTask(ctx context.Context, taskID string, patch TaskPatch) (model.Task, error) {
	return call[model.Task](ctx, c, ProcModifyTask, ModifyTaskRequest{TaskID: taskID, TaskPatch: patch}).Unwrap()
}

func (c *Client) ModifyTaskStatus(ctx context.Context, taskID string, st model.TaskStatus) (model.Task, error) {
	return call[model.Task](ctx, c, ProcModifyTaskStatus, TaskStatusRequest{TaskID: taskID, Status: st}).Unwrap()
}

func (c *Client) GetUserGroups(ctx context.Context) ([]model.Group, error) {
	return call[[]model.Group](ctx, c, ProcGetUserGroups, struct{}{}).Unwrap()
}

func (c *Client) CreateGroup(ctx context.Context, name string) (model.Group, error) {
	return call[model.Group](ctx, c, ProcCreateGroup, GroupRequest{Name: name}).Unwrap()
}

func (c *Client) AddUserToGroup(ctx context.Context, groupID, userID string) (model.GroupMember, error) {
	return call[model.GroupMember](ctx, c, ProcAddUserToGroup, MemberRequest{GroupID: groupID, UserID: userID}).Unwrap()
}

func (c *Client) DeleteUserFromGroup(ctx context.Context, groupID, userID string) error {
	_, err := call[struct{}](ctx, c, ProcDeleteUserFromGroup, MemberRequest{GroupID: groupID, UserID: userID}).Unwrap()
	return err
}

func (c *Client) UpdateGroupMemberStatus(ctx context.Context, groupID, userID string, st model.MemberStatus) (model.GroupMember, error) {
	return call[model.GroupMember](ctx, c, ProcUpdateGroupMemberStatus, MemberRequest{GroupID: groupID, UserID: userID, Status: st}).Unwrap()
}

func (c *Client) InviteCandidates(ctx context.Context) ([]model.User, error) {
	return call[[]model.User](ctx, c, ProcInviteCandidates, struct{}{}).Unwrap()
}

func (c *Client) UpdateListGroup(ctx context.Context, listID, groupID string, st model.GeneralStatus) (model.ListGroup, error) {
	return call[model.ListGroup](ctx, c, ProcUpdateListGroup, ListGroupRequest{ListID: listID, GroupID: groupID, Status: st}).Unwrap()
}

func (c *Client) GetListGroups(ctx context.Context, listID string) ([]model.ListGroup, error) {
	return call[[]model.ListGroup](ctx, c, ProcGetListGroups, ListRef{ListID: listID}).Unwrap()
}

func (c *Client) RemoveListGroup(ctx context.Context, listID, groupID string) error {
	_, err := call[struct{}](ctx, c, ProcRemoveListGroup, ListGroupRequest{ListID: listID, GroupID: groupID}).Unwrap()
	return err
}

func (c *Client) GetTaskUsers(ctx context.Context, taskID string) ([]model.TaskAssignment, error) {
	return call[[]model.TaskAssignment](ctx, c, ProcGetTaskUsers, TaskRef{TaskID: taskID}).Unwrap()
}

func (c *Client) UpdateTaskUser(ctx context.Context, taskID, userID string, st model.AssignmentStatus) (model.TaskAssignment, error) {
	return call[model.TaskAssignment](ctx, c, ProcUpdateTaskUser, TaskUserRequest{TaskID: taskID, UserID: userID, Status: st}).Unwrap()
}

func (c *Client) SetupNewUser(ctx context.Context, displayName string) (model.Group, error) {
	return call[model.Group](ctx, c, ProcSetupNewUser, SetupRequest{DisplayName: displayName}).Unwrap()
}

func (c *Client) AnonymizeUser(ctx context.Context) error {
	_, err := call[struct{}](ctx, c, ProcAnonymizeUser, struct{}{}).Unwrap()
	return err
}

// Events streams the server's change notifications until ctx is done or
// the connection drops; the channel is closed either way.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/events", nil)
	if err != nil {
		return nil, &Error{Op: "events", Kind: KindTransport, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, &Error{Op: "events", Kind: KindTransport, Message: err.Error(), Err: err}
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, &Error{Op: "events", Kind: KindFromStatus(res.StatusCode), Message: fmt.Sprintf("status %d", res.StatusCode)}
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer res.Body.Close()
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			line := sc.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.log.Warn("bad event", "data", data, "err", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

var _ Gateway = (*Client)(nil)
