// Package workflowclient is the approval-workflow SDK used by operator
// tooling and front-end gateways. It talks to the back-office request API,
// mirrors the server's capability rules for cheap local pre-checks, and
// never applies an optimistic update: the server's response is the only
// source of truth, and every successful mutation is followed by a refetch.
package workflowclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"backoffice/internal/workflow"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Confirmer is the blocking yes/no prompt shown before any mutation.
type Confirmer interface {
	Confirm(title, text string) bool
}

// Notifier receives non-blocking outcome notifications ("success"/"error").
type Notifier interface {
	Notify(kind, message string)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(kind, message string)

func (f NotifierFunc) Notify(kind, message string) { f(kind, message) }

// kindSegments maps request kinds onto their API path segments.
var kindSegments = map[workflow.Kind]string{
	workflow.KindExpenseClaim:   "expense-claims",
	workflow.KindTravelRequest:  "travel-requests",
	workflow.KindPaymentRequest: "payment-requests",
	workflow.KindPaymentVoucher: "payment-vouchers",
	workflow.KindPurchaseOrder:  "purchase-orders",
}

// UserRef is the compact user reference embedded in request payloads.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RequestDetail is the client-side view of one request, as served by
// GET /api/{kind}/{id}.
type RequestDetail struct {
	ID           string                 `json:"id"`
	Kind         string                 `json:"kind"`
	Code         string                 `json:"code"`
	Status       string                 `json:"status"`
	Title        string                 `json:"title"`
	TotalAmount  string                 `json:"total_amount"`
	CreatedBy    *UserRef               `json:"created_by"`
	ReviewedBy   *UserRef               `json:"reviewed_by"`
	ApprovedBy   *UserRef               `json:"approved_by"`
	Capabilities *workflow.Capabilities `json:"capabilities,omitempty"`
}

// snapshot rebuilds the resolver input from the served fields. Unparseable
// IDs degrade to the zero UUID, which can never match the acting user.
func (d *RequestDetail) snapshot() workflow.Snapshot {
	snap := workflow.Snapshot{
		Kind:   workflow.Kind(d.Kind),
		Status: workflow.Status(d.Status),
	}
	if d.CreatedBy != nil {
		snap.CreatedBy, _ = uuid.Parse(d.CreatedBy.ID)
	}
	if d.ReviewedBy != nil {
		if id, err := uuid.Parse(d.ReviewedBy.ID); err == nil {
			snap.ReviewedBy = &id
		}
	}
	if d.ApprovedBy != nil {
		if id, err := uuid.Parse(d.ApprovedBy.ID); err == nil {
			snap.ApprovedBy = &id
		}
	}
	return snap
}

// envelope is the API's standard response wrapper.
type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Client is a workflow API client bound to one acting user. Safe for
// concurrent use.
type Client struct {
	http    *resty.Client
	actor   workflow.Actor
	confirm Confirmer
	notify  Notifier

	// retryBudget caps 429 retries per mutation; other failures are never
	// retried by the client.
	retryBudget uint64

	mu    sync.RWMutex
	cache map[string]*RequestDetail
}

// Option configures a Client.
type Option func(*Client)

// WithConfirmer installs the blocking confirmation prompt. Without one,
// mutations proceed as if confirmed.
func WithConfirmer(c Confirmer) Option {
	return func(cl *Client) { cl.confirm = c }
}

// WithNotifier installs the outcome notification sink.
func WithNotifier(n Notifier) Option {
	return func(cl *Client) { cl.notify = n }
}

// WithRetryBudget sets the number of retries attempted on 429 responses.
func WithRetryBudget(n uint64) Option {
	return func(cl *Client) { cl.retryBudget = n }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.SetTimeout(d) }
}

// WithAccessToken sends the given bearer token on every request.
func WithAccessToken(token string) Option {
	return func(cl *Client) { cl.http.SetAuthToken(token) }
}

// New builds a client for the API at baseURL acting as the given user.
func New(baseURL string, actor workflow.Actor, opts ...Option) *Client {
	cl := &Client{
		http:        resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
		actor:       actor,
		retryBudget: 3,
		cache:       make(map[string]*RequestDetail),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Get fetches the request detail from the server and refreshes the cache.
func (c *Client) Get(ctx context.Context, kind workflow.Kind, id string) (*RequestDetail, error) {
	segment, ok := kindSegments[kind]
	if !ok {
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}

	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env).
		Get("/api/" + segment + "/" + id)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if resp.IsError() {
		return nil, &RemoteRejected{StatusCode: resp.StatusCode(), Message: env.Error}
	}

	var detail RequestDetail
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	c.mu.Lock()
	c.cache[id] = &detail
	c.mu.Unlock()

	return &detail, nil
}

// Cached returns the locally cached detail for id, if any.
func (c *Client) Cached(id string) (*RequestDetail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.cache[id]
	return d, ok
}

// Invalidate drops the cached detail for id.
func (c *Client) Invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

// detail returns the cached record or fetches it when absent.
func (c *Client) detail(ctx context.Context, kind workflow.Kind, id string) (*RequestDetail, error) {
	if d, ok := c.Cached(id); ok {
		return d, nil
	}
	return c.Get(ctx, kind, id)
}

// SubmitTransition moves a request to target status on behalf of the acting
// user. Sequence: local capability pre-check (no network on refusal),
// blocking confirmation (decline is a silent no-op), PATCH, then
// invalidate-and-refetch so the returned detail is server truth. The
// pre-transition state is never mutated locally; a declined confirmation
// or any failure leaves the cache untouched.
func (c *Client) SubmitTransition(ctx context.Context, kind workflow.Kind, id string, target workflow.Status, comment string) (*RequestDetail, error) {
	segment, ok := kindSegments[kind]
	if !ok {
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}

	current, err := c.detail(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	snap := current.snapshot()
	category, declared := workflow.CanTransition(kind, snap.Status, target)
	if !declared {
		return nil, fmt.Errorf("%w: no %s -> %s transition", ErrUnauthorized, snap.Status, target)
	}
	if category == workflow.CategoryCreator {
		if !workflow.SendAllowed(c.actor, snap) {
			return nil, ErrUnauthorized
		}
	} else if !workflow.Resolve(c.actor, snap).CanUpdateStatus {
		return nil, ErrUnauthorized
	}

	if !c.confirmed("Update status", fmt.Sprintf("Move %s to %s?", current.Code, target)) {
		return current, nil
	}

	err = c.patch(ctx, "/api/"+segment+"/update-status/"+id, map[string]string{
		"status":  string(target),
		"comment": comment,
	})
	if err != nil {
		c.notifyOutcome("error", err.Error())
		return nil, err
	}

	c.Invalidate(id)
	fresh, err := c.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	c.notifyOutcome("success", fmt.Sprintf("%s is now %s", fresh.Code, fresh.Status))
	return fresh, nil
}

// SubmitAdminApproval claims the open approver slot for a reviewed request
// without changing its status. Same confirm/refetch pattern as
// SubmitTransition.
func (c *Client) SubmitAdminApproval(ctx context.Context, kind workflow.Kind, id, approverID string) (*RequestDetail, error) {
	segment, ok := kindSegments[kind]
	if !ok {
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}

	current, err := c.detail(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if !workflow.Resolve(c.actor, current.snapshot()).ShowAdminApproval {
		return nil, ErrUnauthorized
	}

	if !c.confirmed("Assign approver", fmt.Sprintf("Assign the approver for %s?", current.Code)) {
		return current, nil
	}

	err = c.patch(ctx, "/api/"+segment+"/admin-approval/"+id, map[string]string{
		"approver_id": approverID,
	})
	if err != nil {
		c.notifyOutcome("error", err.Error())
		return nil, err
	}

	c.Invalidate(id)
	fresh, err := c.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	c.notifyOutcome("success", fmt.Sprintf("approver assigned on %s", fresh.Code))
	return fresh, nil
}

// patch sends a PATCH and classifies the outcome. Only 429 responses are
// retried, with bounded exponential backoff; everything else surfaces
// immediately as NetworkError or RemoteRejected.
func (c *Client) patch(ctx context.Context, path string, body interface{}) error {
	operation := func() error {
		var env envelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&env).
			SetError(&env).
			Patch(path)
		if err != nil {
			return backoff.Permanent(&NetworkError{Err: err})
		}
		if resp.StatusCode() == 429 {
			return &RemoteRejected{StatusCode: 429, Message: env.Error}
		}
		if resp.IsError() {
			return backoff.Permanent(&RemoteRejected{StatusCode: resp.StatusCode(), Message: env.Error})
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retryBudget), ctx)

	return backoff.Retry(operation, policy)
}

func (c *Client) confirmed(title, text string) bool {
	if c.confirm == nil {
		return true
	}
	return c.confirm.Confirm(title, text)
}

func (c *Client) notifyOutcome(kind, message string) {
	if c.notify != nil {
		c.notify.Notify(kind, message)
	}
}
