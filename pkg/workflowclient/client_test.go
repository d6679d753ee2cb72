package workflowclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"backoffice/internal/workflow"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	Path   string
}

// mockAPI is a scripted stand-in for the request service
type mockAPI struct {
	mu       sync.Mutex
	calls    []recordedCall
	detail   map[string]interface{}
	patch    func(w http.ResponseWriter, r *http.Request)
	patchHit int
}

func (m *mockAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.calls = append(m.calls, recordedCall{Method: r.Method, Path: r.URL.Path})
		m.mu.Unlock()

		if r.Method == http.MethodPatch {
			m.mu.Lock()
			m.patchHit++
			m.mu.Unlock()
			m.patch(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "success",
			"status_code": 200,
			"data":        m.detail,
		})
	})
	return mux
}

func (m *mockAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockAPI) patchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patchHit
}

func writeEnvelope(w http.ResponseWriter, code int, errMsg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	env := map[string]interface{}{"status_code": code}
	if errMsg != "" {
		env["status"] = "error"
		env["error"] = errMsg
	} else {
		env["status"] = "success"
		env["data"] = data
	}
	json.NewEncoder(w).Encode(env)
}

type confirmFunc func(title, text string) bool

func (f confirmFunc) Confirm(title, text string) bool { return f(title, text) }

func pendingClaim(creator uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"id":     "11111111-1111-1111-1111-111111111111",
		"kind":   "expense-claim",
		"code":   "EC-20260831-00001",
		"status": "pending",
		"title":  "Team lunch",
		"created_by": map[string]interface{}{
			"id": creator.String(), "username": "alice", "role": "staff",
		},
	}
}

const claimID = "11111111-1111-1111-1111-111111111111"

func TestSubmitTransitionUnauthorizedMakesNoCall(t *testing.T) {
	creator := uuid.New()
	api := &mockAPI{detail: pendingClaim(creator)}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	// A staff user who is not the creator cannot review anything
	staff := workflow.Actor{ID: uuid.New(), Role: workflow.RoleStaff}
	client := New(srv.URL, staff)

	_, err := client.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)
	callsAfterPrime := api.callCount()

	_, err = client.SubmitTransition(context.Background(), workflow.KindExpenseClaim, claimID, workflow.StatusReviewed, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, callsAfterPrime, api.callCount(), "pre-check refusal must not reach the network")

	// An undeclared edge is refused the same way
	_, err = client.SubmitTransition(context.Background(), workflow.KindExpenseClaim, claimID, workflow.StatusApproved, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, callsAfterPrime, api.callCount())
}

func TestSubmitTransitionDeclinedConfirmIsNoOp(t *testing.T) {
	creator := uuid.New()
	api := &mockAPI{detail: pendingClaim(creator)}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	reviewer := workflow.Actor{ID: uuid.New(), Role: workflow.RoleReviewer}
	client := New(srv.URL, reviewer,
		WithConfirmer(confirmFunc(func(string, string) bool { return false })))

	before, err := client.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)
	callsAfterPrime := api.callCount()

	got, err := client.SubmitTransition(context.Background(), workflow.KindExpenseClaim, claimID, workflow.StatusReviewed, "")
	require.NoError(t, err)
	assert.Equal(t, before, got, "declined confirmation must leave state untouched")
	assert.Equal(t, callsAfterPrime, api.callCount())
	assert.Equal(t, 0, api.patchCount())
}

func TestSubmitTransitionSuccessRefetches(t *testing.T) {
	creator := uuid.New()
	api := &mockAPI{detail: pendingClaim(creator)}
	api.patch = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "reviewed", body["status"])
		assert.Equal(t, "looks fine", body["comment"])

		// The server advances the record; the follow-up GET sees it
		api.mu.Lock()
		api.detail["status"] = "reviewed"
		api.mu.Unlock()
		writeEnvelope(w, 200, "", api.detail)
	}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	var notices []string
	reviewer := workflow.Actor{ID: uuid.New(), Role: workflow.RoleReviewer}
	client := New(srv.URL, reviewer,
		WithNotifier(NotifierFunc(func(kind, message string) {
			notices = append(notices, kind+": "+message)
		})))

	_, err := client.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)

	fresh, err := client.SubmitTransition(context.Background(), workflow.KindExpenseClaim, claimID, workflow.StatusReviewed, "looks fine")
	require.NoError(t, err)

	assert.Equal(t, "reviewed", fresh.Status, "returned detail must be server truth")
	assert.Equal(t, 1, api.patchCount())
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "success")

	cached, ok := client.Cached(claimID)
	require.True(t, ok)
	assert.Equal(t, "reviewed", cached.Status)
}

func TestSubmitTransitionRemoteRejectedVerbatim(t *testing.T) {
	creator := uuid.New()
	api := &mockAPI{detail: pendingClaim(creator)}
	api.patch = func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, "approver slot already claimed", nil)
	}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	reviewer := workflow.Actor{ID: uuid.New(), Role: workflow.RoleReviewer}
	client := New(srv.URL, reviewer)

	before, err := client.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)

	_, err = client.SubmitTransition(context.Background(), workflow.KindExpenseClaim, claimID, workflow.StatusReviewed, "")
	require.Error(t, err)

	var rejected *RemoteRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusConflict, rejected.StatusCode)
	assert.Equal(t, "approver slot already claimed", err.Error(), "server message must surface verbatim")

	// No local mutation on failure
	cached, ok := client.Cached(claimID)
	require.True(t, ok)
	assert.Equal(t, before, cached)
	assert.Equal(t, 1, api.patchCount(), "non-429 rejections are never retried")
}

func TestSubmitTransitionRetriesRateLimit(t *testing.T) {
	creator := uuid.New()
	api := &mockAPI{detail: pendingClaim(creator)}
	api.patch = func(w http.ResponseWriter, r *http.Request) {
		if api.patchCount() < 3 {
			writeEnvelope(w, http.StatusTooManyRequests, "rate limit exceeded, retry shortly", nil)
			return
		}
		api.mu.Lock()
		api.detail["status"] = "reviewed"
		api.mu.Unlock()
		writeEnvelope(w, 200, "", api.detail)
	}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	reviewer := workflow.Actor{ID: uuid.New(), Role: workflow.RoleReviewer}
	client := New(srv.URL, reviewer, WithRetryBudget(5))

	_, err := client.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)

	fresh, err := client.SubmitTransition(context.Background(), workflow.KindExpenseClaim, claimID, workflow.StatusReviewed, "")
	require.NoError(t, err)
	assert.Equal(t, "reviewed", fresh.Status)
	assert.Equal(t, 3, api.patchCount(), "two rate-limited attempts then success")
}

func TestNetworkErrorFixedCopy(t *testing.T) {
	creator := uuid.New()
	api := &mockAPI{detail: pendingClaim(creator)}
	srv := httptest.NewServer(api.handler())

	reviewer := workflow.Actor{ID: uuid.New(), Role: workflow.RoleReviewer}
	client := New(srv.URL, reviewer)

	_, err := client.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)

	// Server goes away between pre-check and submit
	srv.Close()

	_, err = client.SubmitTransition(context.Background(), workflow.KindExpenseClaim, claimID, workflow.StatusReviewed, "")
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "could not reach the server, please check your connection and try again", netErr.Error())
	assert.NotNil(t, errors.Unwrap(netErr))
}

func TestSubmitAdminApproval(t *testing.T) {
	creator := uuid.New()
	admin := workflow.Actor{ID: uuid.New(), Role: workflow.RoleAdmin}

	detail := pendingClaim(creator)
	detail["status"] = "reviewed"
	detail["reviewed_by"] = map[string]interface{}{
		"id": uuid.NewString(), "username": "carol", "role": "reviewer",
	}

	api := &mockAPI{detail: detail}
	api.patch = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, admin.ID.String(), body["approver_id"])

		api.mu.Lock()
		api.detail["approved_by"] = map[string]interface{}{
			"id": admin.ID.String(), "username": "dave", "role": "admin",
		}
		api.mu.Unlock()
		writeEnvelope(w, 200, "", api.detail)
	}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client := New(srv.URL, admin)

	_, err := client.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)

	fresh, err := client.SubmitAdminApproval(context.Background(), workflow.KindExpenseClaim, claimID, admin.ID.String())
	require.NoError(t, err)

	assert.Equal(t, "reviewed", fresh.Status, "slot claim does not move status")
	require.NotNil(t, fresh.ApprovedBy)
	assert.Equal(t, "dave", fresh.ApprovedBy.Username)

	// With the slot claimed, a second claim is refused locally
	other := workflow.Actor{ID: uuid.New(), Role: workflow.RoleAdmin}
	second := New(srv.URL, other)
	_, err = second.Get(context.Background(), workflow.KindExpenseClaim, claimID)
	require.NoError(t, err)
	callsBefore := api.callCount()
	_, err = second.SubmitAdminApproval(context.Background(), workflow.KindExpenseClaim, claimID, other.ID.String())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, callsBefore, api.callCount())
}
