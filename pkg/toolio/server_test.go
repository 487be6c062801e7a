package toolio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/fabric/pkg/ids"
	"github.com/Mindburn-Labs/fabric/pkg/ledger"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/sqldb"
	"github.com/Mindburn-Labs/fabric/pkg/tasks"
)

const testTenant = "tenant-a"

type nullEmitter struct{}

func (nullEmitter) Emit(_ context.Context, r *receipts.Receipt) (string, error) {
	if !receipts.IsSet(r.ReceiptID) {
		r.ReceiptID = ids.NewReceiptID()
	}
	return r.ReceiptID, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, _, err := sqldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	led := ledger.NewSQLLedger(db)
	require.NoError(t, led.Init(context.Background()))

	taskDB, taskDialect, err := sqldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = taskDB.Close() })
	store := tasks.NewSQLTaskStore(taskDB, taskDialect)
	require.NoError(t, store.Init(context.Background()))
	co := tasks.NewCoordinator(store, nullEmitter{}, tasks.CoordinatorConfig{})

	s := NewServer(testTenant)
	BindLedger(s, led)
	BindCoordinator(s, co)
	return s
}

// run feeds NDJSON lines through the server and returns one parsed
// response per line.
func run(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()
	var out bytes.Buffer
	input := strings.Join(lines, "\n") + "\n"
	require.NoError(t, s.Run(context.Background(), strings.NewReader(input), &out))

	var responses []Response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp Response
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, len(lines))
	return responses
}

func resultMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	m, ok := resp.Result.(map[string]any)
	require.True(t, ok, "result is not an object: %v", resp.Result)
	return m
}

func TestStoreAndInboxRoundTrip(t *testing.T) {
	s := newTestServer(t)

	store := `{"id":"1","tool":"memory_store_receipt","args":{"receipt_id":"r-1","task_id":"T-1","from_principal":"user.bob","for_principal":"user.bob","source_system":"test","recipient_ai":"worker.alice","phase":"accepted","task_type":"demo","task_summary":"a demo task"}}`
	inbox := `{"id":"2","tool":"memory_get_inbox","args":{"recipient_ai":"worker.alice"}}`

	responses := run(t, s, store, inbox)

	require.True(t, responses[0].OK, "store failed: %s", responses[0].Error)
	assert.Equal(t, "1", responses[0].ID)
	assert.Equal(t, "r-1", resultMap(t, responses[0])["receipt_id"])

	require.True(t, responses[1].OK)
	assert.Equal(t, float64(1), resultMap(t, responses[1])["count"])
}

func TestDuplicateStoreIsIdempotent(t *testing.T) {
	s := newTestServer(t)

	store := `{"tool":"memory_store_receipt","args":{"receipt_id":"r-dup","task_id":"T-1","from_principal":"u","for_principal":"u","source_system":"test","recipient_ai":"worker.alice","phase":"accepted","task_type":"demo","task_summary":"a demo task"}}`

	responses := run(t, s, store, store)
	require.True(t, responses[0].OK)
	require.True(t, responses[1].OK, "duplicate must be reported as success")
	assert.Equal(t, true, resultMap(t, responses[1])["duplicate"])
}

func TestValidationErrorSurfacesInBand(t *testing.T) {
	s := newTestServer(t)

	// Missing required fields.
	store := `{"tool":"memory_store_receipt","args":{"phase":"accepted"}}`
	responses := run(t, s, store)

	assert.False(t, responses[0].OK)
	assert.NotEmpty(t, responses[0].Error)
}

func TestUnknownToolAndMalformedLine(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s,
		`{"id":"7","tool":"no_such_tool"}`,
		`this is not json`,
	)

	assert.False(t, responses[0].OK)
	assert.Equal(t, "7", responses[0].ID)
	assert.Contains(t, responses[0].Error, "unknown tool")

	assert.False(t, responses[1].OK)
	assert.Contains(t, responses[1].Error, "malformed request")
}

func TestQueueLeaseCompleteFlow(t *testing.T) {
	s := newTestServer(t)

	queue := `{"id":"q","tool":"queue_task","args":{"task_type":"demo","task_summary":"a demo","recipient_ai":"worker.alice","from_principal":"u","for_principal":"u"}}`
	lease := `{"id":"l","tool":"lease_task","args":{"worker_id":"w1"}}`

	responses := run(t, s, queue, lease)
	require.True(t, responses[0].OK, responses[0].Error)
	require.True(t, responses[1].OK, responses[1].Error)

	leaseResult := resultMap(t, responses[1])
	require.Equal(t, true, leaseResult["leased"])
	grants := leaseResult["grants"].([]any)
	require.Len(t, grants, 1)
	leaseID := grants[0].(map[string]any)["lease_id"].(string)

	complete := fmt.Sprintf(`{"id":"c","tool":"complete_task","args":{"lease_id":%q,"worker_id":"w1","status":"success"}}`, leaseID)
	responses = run(t, s, complete)
	require.True(t, responses[0].OK, responses[0].Error)
	assert.Equal(t, "success", resultMap(t, responses[0])["status"])
}

func TestLeaseNoWork(t *testing.T) {
	s := newTestServer(t)

	responses := run(t, s, `{"tool":"lease_task","args":{"worker_id":"w1"}}`)
	require.True(t, responses[0].OK)
	assert.Equal(t, false, resultMap(t, responses[0])["leased"])
}

func TestToolsListsRegistrations(t *testing.T) {
	s := newTestServer(t)
	names := s.Tools()
	assert.Contains(t, names, "memory_store_receipt")
	assert.Contains(t, names, "queue_task")
	assert.Contains(t, names, "expire_leases")
}
