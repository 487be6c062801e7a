package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/fabric/pkg/emission"
	"github.com/Mindburn-Labs/fabric/pkg/ids"
	"github.com/Mindburn-Labs/fabric/pkg/ledger"
	"github.com/Mindburn-Labs/fabric/pkg/planner"
	"github.com/Mindburn-Labs/fabric/pkg/principal"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/sqldb"
	"github.com/Mindburn-Labs/fabric/pkg/tasks"
)

const testTenant = "tenant-a"

// testEmitter assigns ids locally; err makes every emission fail.
type testEmitter struct {
	err error
}

func (e *testEmitter) Emit(_ context.Context, r *receipts.Receipt) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	if !receipts.IsSet(r.ReceiptID) {
		r.ReceiptID = ids.NewReceiptID()
	}
	return r.ReceiptID, nil
}

// withTestPrincipal stands in for the credential middleware.
func withTestPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := &principal.Base{ID: "apikey", TenantID: testTenant, Roles: []string{"service"}}
		next.ServeHTTP(w, r.WithContext(principal.WithPrincipal(r.Context(), p)))
	})
}

func newLedgerServer(t *testing.T) http.Handler {
	t.Helper()
	db, _, err := sqldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	led := ledger.NewSQLLedger(db)
	require.NoError(t, led.Init(context.Background()))

	mux := http.NewServeMux()
	NewLedgerHandler(led).RegisterRoutes(mux)
	return withTestPrincipal(mux)
}

func newTaskServer(t *testing.T, emitter emission.Emitter) http.Handler {
	t.Helper()
	db, dialect, err := sqldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := tasks.NewSQLTaskStore(db, dialect)
	require.NoError(t, store.Init(context.Background()))
	co := tasks.NewCoordinator(store, emitter, tasks.CoordinatorConfig{})

	mux := http.NewServeMux()
	NewTaskHandler(co).RegisterRoutes(mux)
	return withTestPrincipal(mux)
}

func newPlannerServer(t *testing.T) http.Handler {
	t.Helper()
	planDB, planDialect, err := sqldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = planDB.Close() })
	planStore := planner.NewSQLStore(planDB, planDialect)
	require.NoError(t, planStore.Init(context.Background()))

	taskDB, taskDialect, err := sqldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = taskDB.Close() })
	taskStore := tasks.NewSQLTaskStore(taskDB, taskDialect)
	require.NoError(t, taskStore.Init(context.Background()))

	emitter := &testEmitter{}
	co := tasks.NewCoordinator(taskStore, emitter, tasks.CoordinatorConfig{})
	svc := planner.NewService(planStore, co, emitter)

	mux := http.NewServeMux()
	NewPlannerHandler(svc).RegisterRoutes(mux)
	return withTestPrincipal(mux)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

func acceptedPayload(receiptID, taskID string) map[string]any {
	return map[string]any{
		"receipt_id":     receiptID,
		"task_id":        taskID,
		"from_principal": "user.bob",
		"for_principal":  "user.bob",
		"source_system":  "test",
		"recipient_ai":   "worker.alice",
		"phase":          "accepted",
		"task_type":      "demo",
		"task_summary":   "a demo task",
	}
}

func TestAppendReturnsCreated(t *testing.T) {
	h := newLedgerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/receipts", acceptedPayload("r-1", "T-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "r-1", body["receipt_id"])
	assert.NotEmpty(t, body["stored_at"])
	assert.Equal(t, testTenant, body["tenant_id"])
}

func TestAppendDuplicateReturns409Envelope(t *testing.T) {
	h := newLedgerServer(t)

	first := doJSON(t, h, http.MethodPost, "/receipts", acceptedPayload("r-dup", "T-1"))
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, h, http.MethodPost, "/receipts", acceptedPayload("r-dup", "T-1"))
	require.Equal(t, http.StatusConflict, second.Code)

	body := decodeBody(t, second)
	assert.Equal(t, CodeDuplicateReceiptID, body["error"])
	assert.Equal(t, "r-dup", body["receipt_id"])
}

func TestAppendMissingFieldsReturnsDetails(t *testing.T) {
	h := newLedgerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/receipts", map[string]any{"phase": "accepted"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, CodeValidationFailed, body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestAppendMalformedJSON(t *testing.T) {
	h := newLedgerServer(t)

	req := httptest.NewRequest(http.MethodPost, "/receipts", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidationFailed, decodeBody(t, rec)["error"])
}

func TestAppendRejectsBrokenRouting(t *testing.T) {
	h := newLedgerServer(t)

	payload := acceptedPayload("r-esc", "T-1")
	payload["phase"] = "escalate"
	payload["escalation_class"] = "policy"
	payload["escalation_reason"] = "max retries exceeded"
	payload["escalation_to"] = "delegate" // recipient_ai stays worker.alice

	rec := doJSON(t, h, http.MethodPost, "/receipts", payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidationFailed, decodeBody(t, rec)["error"])
}

func TestGetReceiptNotFound(t *testing.T) {
	h := newLedgerServer(t)

	rec := doJSON(t, h, http.MethodGet, "/receipts/r-missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeBody(t, rec)["error"])
}

func TestInboxRequiresRecipient(t *testing.T) {
	h := newLedgerServer(t)

	rec := doJSON(t, h, http.MethodGet, "/inbox", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInboxAndArchiveFlow(t *testing.T) {
	h := newLedgerServer(t)

	require.Equal(t, http.StatusCreated,
		doJSON(t, h, http.MethodPost, "/receipts", acceptedPayload("r-1", "T-1")).Code)

	rec := doJSON(t, h, http.MethodGet, "/inbox?recipient_ai=worker.alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, h, http.MethodPost, "/receipts/r-1/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["archived_at"])

	rec = doJSON(t, h, http.MethodGet, "/inbox?recipient_ai=worker.alice", nil)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])

	// Archive is not idempotent; the second call addresses nothing.
	rec = doJSON(t, h, http.MethodPost, "/receipts/r-1/archive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimelineSortParam(t *testing.T) {
	h := newLedgerServer(t)

	for i := 0; i < 3; i++ {
		payload := acceptedPayload(fmt.Sprintf("r-%d", i), "T-1")
		require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/receipts", payload).Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/receipts/task/T-1?sort=desc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["count"])
}

func TestSearchByTaskType(t *testing.T) {
	h := newLedgerServer(t)

	require.Equal(t, http.StatusCreated,
		doJSON(t, h, http.MethodPost, "/receipts", acceptedPayload("r-1", "T-1")).Code)

	rec := doJSON(t, h, http.MethodGet, "/receipts/search?task_type=demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, h, http.MethodGet, "/receipts/search?task_type=other", nil)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestBootstrapRequiresAgentName(t *testing.T) {
	h := newLedgerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/bootstrap", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/bootstrap", map[string]any{"agent_name": "worker.alice"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func taskSpec() map[string]any {
	return map[string]any{
		"task_type":      "summarize_document",
		"task_summary":   "summarize the report",
		"recipient_ai":   "worker.alice",
		"from_principal": "user.bob",
		"for_principal":  "user.bob",
	}
}

func TestCreateTaskReturnsCreated(t *testing.T) {
	h := newTaskServer(t, &testEmitter{})

	rec := doJSON(t, h, http.MethodPost, "/tasks", taskSpec())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["task_id"])
	assert.NotEmpty(t, body["receipt_id"])
	assert.Equal(t, "queued", body["status"])
}

func TestCreateTaskValidationReturns400(t *testing.T) {
	h := newTaskServer(t, &testEmitter{})

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"task_type": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidationFailed, decodeBody(t, rec)["error"])
}

func TestCreateTaskEmissionFailureReturns503WithTaskID(t *testing.T) {
	h := newTaskServer(t, &testEmitter{err: emission.ErrEmissionFailed})

	rec := doJSON(t, h, http.MethodPost, "/tasks", taskSpec())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, CodeServiceUnavailable, body["error"])
	assert.NotEmpty(t, body["task_id"], "caller needs the task id to reconcile")
}

func TestLeaseNoWorkReturns204(t *testing.T) {
	h := newTaskServer(t, &testEmitter{})

	rec := doJSON(t, h, http.MethodPost, "/lease", map[string]any{"worker_id": "w1"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestLeaseRequiresWorkerID(t *testing.T) {
	h := newTaskServer(t, &testEmitter{})

	rec := doJSON(t, h, http.MethodPost, "/lease", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueLeaseCompleteOverHTTP(t *testing.T) {
	h := newTaskServer(t, &testEmitter{})

	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/tasks", taskSpec()).Code)

	rec := doJSON(t, h, http.MethodPost, "/lease", map[string]any{"worker_id": "w1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	grants := body["grants"].([]any)
	require.Len(t, grants, 1)
	leaseID := grants[0].(map[string]any)["lease_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/lease/"+leaseID+"/complete", map[string]any{
		"worker_id": "w1",
		"status":    "success",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	// The lease is resolved; a heartbeat now means the lease is lost.
	rec = doJSON(t, h, http.MethodPost, "/lease/"+leaseID+"/heartbeat", map[string]any{"worker_id": "w1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailWithRetryOverHTTP(t *testing.T) {
	h := newTaskServer(t, &testEmitter{})

	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/tasks", taskSpec()).Code)
	rec := doJSON(t, h, http.MethodPost, "/lease", map[string]any{"worker_id": "w1"})
	leaseID := decodeBody(t, rec)["grants"].([]any)[0].(map[string]any)["lease_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/lease/"+leaseID+"/fail", map[string]any{
		"worker_id":     "w1",
		"error_message": "upstream timeout",
		"retryable":     true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "retry_scheduled", body["status"])
	assert.Equal(t, true, body["retry_scheduled"])
}

func TestAdminEndpoints(t *testing.T) {
	h := newTaskServer(t, &testEmitter{})

	rec := doJSON(t, h, http.MethodGet, "/admin/expire-leases", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["expired"])

	rec = doJSON(t, h, http.MethodGet, "/admin/receipt-queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func planRequest() map[string]any {
	return map[string]any{
		"intent":       "summarize the quarterly report",
		"principal_ai": "agent.main",
	}
}

func TestCreatePlanReturnsCreated(t *testing.T) {
	h := newPlannerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/plans", planRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	plan := body["plan"].(map[string]any)
	assert.NotEmpty(t, plan["plan_id"])
	assert.Equal(t, "created", plan["status"])
}

func TestCreatePlanRequiresIntent(t *testing.T) {
	h := newPlannerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/plans", map[string]any{"principal_ai": "agent.main"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidationFailed, decodeBody(t, rec)["error"])
}

func TestPlanNotFound(t *testing.T) {
	h := newPlannerServer(t)

	for _, path := range []string{"/plans/plan-missing", "/plans/plan-missing/status"} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := doJSON(t, h, http.MethodPost, "/plans/plan-missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutePlanDryRun(t *testing.T) {
	h := newPlannerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/plans", planRequest())
	planID := decodeBody(t, rec)["plan"].(map[string]any)["plan_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/plans/"+planID+"/execute", map[string]any{"dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "validated", body["status"])
	assert.Equal(t, float64(1), body["steps_queued"])
}

func TestExecutePlanQueuesAndReportsStatus(t *testing.T) {
	h := newPlannerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/plans", planRequest())
	planID := decodeBody(t, rec)["plan"].(map[string]any)["plan_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/plans/"+planID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "started", decodeBody(t, rec)["status"])

	rec = doJSON(t, h, http.MethodGet, "/plans/"+planID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "executing", decodeBody(t, rec)["status"])
}

func TestWorkerRegistryOverHTTP(t *testing.T) {
	h := newPlannerServer(t)

	rec := doJSON(t, h, http.MethodPost, "/workers", map[string]any{
		"worker_id":   "worker.alice",
		"worker_type": "llm",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, h, http.MethodPost, "/workers", map[string]any{"worker_type": "llm"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
