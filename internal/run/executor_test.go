package run

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/registry"
	"github.com/durablehost/go-sdk/internal/rpc"
	"github.com/durablehost/go-sdk/internal/schema"
)

// fakeChannel is the same in-memory transport.Channel pair pattern used by
// the rpc and registration packages' own tests.
type fakeChannel struct {
	out      chan []byte
	messages chan []byte
	closed   chan error
}

func newFakePair() (*fakeChannel, *fakeChannel) {
	aToB := make(chan []byte, 64)
	bToA := make(chan []byte, 64)
	a := &fakeChannel{out: aToB, messages: bToA, closed: make(chan error, 1)}
	b := &fakeChannel{out: bToA, messages: aToB, closed: make(chan error, 1)}
	return a, b
}

func (f *fakeChannel) Open(ctx context.Context) error { return nil }
func (f *fakeChannel) Send(ctx context.Context, frame []byte) error {
	f.out <- frame
	return nil
}
func (f *fakeChannel) Messages() <-chan []byte             { return f.messages }
func (f *fakeChannel) Closed() <-chan error                { return f.closed }
func (f *fakeChannel) Close(code int, reason string) error { return nil }

// recvFrame reads and decodes the next frame sent by the client under test,
// failing the test if none arrives in time.
func recvFrame(t *testing.T, ch *fakeChannel) rpc.Frame {
	t.Helper()
	select {
	case raw := <-ch.messages:
		var frame rpc.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("malformed frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return rpc.Frame{}
	}
}

// ackFrame writes an {ok:true} response for the given request frame's id.
func ackFrame(t *testing.T, ch *fakeChannel, id string, value any) {
	t.Helper()
	ok := true
	var valueJSON json.RawMessage
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			t.Fatal(err)
		}
		valueJSON = data
	} else {
		valueJSON = json.RawMessage(`{}`)
	}
	resp := rpc.Frame{Kind: rpc.KindResponseFrame, ID: id, OK: &ok, Value: valueJSON}
	data, _ := json.Marshal(resp)
	ch.Send(context.Background(), data)
}

func newTestExecutor() (*Executor, *fakeChannel, *rpc.Client) {
	clientSide, serverSide := newFakePair()
	client := rpc.New(rpc.ClientToServer, rpc.ServerToClient, zap.NewNop())
	reg := registry.New(zap.NewNop())
	exec := New(client, reg, zap.NewNop())
	client.ResetConnection(clientSide)
	return exec, serverSide, client
}

func sendTrigger(t *testing.T, client *rpc.Client, serverSide *fakeChannel, runID, workflowID string, attempt int, input any) {
	t.Helper()
	inputJSON, _ := json.Marshal(input)
	payload, _ := json.Marshal(map[string]any{
		"id": runID,
		"trigger": map[string]any{
			"input": json.RawMessage(inputJSON),
		},
		"meta": map[string]any{
			"attempt":    attempt,
			"workflowId": workflowID,
		},
	})
	req := rpc.Frame{Kind: rpc.KindRequestFrame, ID: "trig-" + runID, Method: rpc.MethodTriggerWorkflow, Payload: payload}
	data, _ := json.Marshal(req)
	serverSide.Send(context.Background(), data)

	// Drain the inbound-request ack the executor writes back.
	recvFrame(t, serverSide)
}

func TestHappyPathEmitsStartThenComplete(t *testing.T) {
	exec, serverSide, client := newTestExecutor()
	_ = client

	exec.Register(&Workflow{
		ID: "w1",
		InputSchema: schema.Schema{
			"type":     "object",
			"required": []any{"n"},
		},
		Handler: func(ctx context.Context, input json.RawMessage, rc *Context) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	sendTrigger(t, client, serverSide, "r1", "w1", 0, map[string]any{"n": float64(1)})

	start := recvFrame(t, serverSide)
	if start.Method != rpc.MethodStartWorkflowRun {
		t.Fatalf("expected START_WORKFLOW_RUN, got %s", start.Method)
	}
	ackFrame(t, serverSide, start.ID, nil)

	complete := recvFrame(t, serverSide)
	if complete.Method != rpc.MethodCompleteWorkflow {
		t.Fatalf("expected COMPLETE_WORKFLOW_RUN, got %s", complete.Method)
	}
	var payload map[string]any
	_ = json.Unmarshal(complete.Payload, &payload)
	if payload["output"] != `{"ok":true}` {
		t.Fatalf("unexpected output: %v", payload["output"])
	}
	ackFrame(t, serverSide, complete.ID, nil)
}

func TestSchemaFailureSendsWorkflowErrorWithoutStart(t *testing.T) {
	exec, serverSide, client := newTestExecutor()

	exec.Register(&Workflow{
		ID: "w1",
		InputSchema: schema.Schema{
			"type":     "object",
			"required": []any{"n"},
			"properties": map[string]any{
				"n": map[string]any{"type": "number"},
			},
		},
		Handler: func(ctx context.Context, input json.RawMessage, rc *Context) (any, error) {
			t.Fatal("handler must not be invoked on schema validation failure")
			return nil, nil
		},
	})

	sendTrigger(t, client, serverSide, "r2", "w1", 0, map[string]any{"n": "not-a-number"})

	frame := recvFrame(t, serverSide)
	if frame.Method != rpc.MethodSendWorkflowError {
		t.Fatalf("expected SEND_WORKFLOW_ERROR, got %s", frame.Method)
	}
	var payload struct {
		Error struct {
			Name string `json:"name"`
		} `json:"error"`
	}
	_ = json.Unmarshal(frame.Payload, &payload)
	if payload.Error.Name != "Event validation error" {
		t.Fatalf("unexpected error name: %q", payload.Error.Name)
	}
	ackFrame(t, serverSide, frame.ID, nil)
}

func TestUserFunctionErrorSendsWorkflowError(t *testing.T) {
	exec, serverSide, client := newTestExecutor()

	exec.Register(&Workflow{
		ID: "w1",
		Handler: func(ctx context.Context, input json.RawMessage, rc *Context) (any, error) {
			return nil, errors.New("boom")
		},
	})

	sendTrigger(t, client, serverSide, "r3", "w1", 0, map[string]any{})

	start := recvFrame(t, serverSide)
	ackFrame(t, serverSide, start.ID, nil)

	errFrame := recvFrame(t, serverSide)
	if errFrame.Method != rpc.MethodSendWorkflowError {
		t.Fatalf("expected SEND_WORKFLOW_ERROR, got %s", errFrame.Method)
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(errFrame.Payload, &payload)
	if payload.Error.Message != "boom" {
		t.Fatalf("unexpected message: %q", payload.Error.Message)
	}
	ackFrame(t, serverSide, errFrame.ID, nil)
}

func TestWaitForJournalsDelayAndResumesOnResolve(t *testing.T) {
	exec, serverSide, client := newTestExecutor()

	done := make(chan struct{})
	exec.Register(&Workflow{
		ID: "w1",
		Handler: func(ctx context.Context, input json.RawMessage, rc *Context) (any, error) {
			if err := rc.WaitFor(ctx, "d1", Duration{Seconds: 5}); err != nil {
				return nil, err
			}
			close(done)
			return map[string]any{"ok": true}, nil
		},
	})

	sendTrigger(t, client, serverSide, "r4", "w1", 0, map[string]any{})

	start := recvFrame(t, serverSide)
	ackFrame(t, serverSide, start.ID, nil)

	delay := recvFrame(t, serverSide)
	if delay.Method != rpc.MethodInitializeDelay {
		t.Fatalf("expected INITIALIZE_DELAY, got %s", delay.Method)
	}
	ackFrame(t, serverSide, delay.ID, nil)

	// Server resolves the delay out-of-band.
	resolvePayload, _ := json.Marshal(map[string]any{
		"meta": map[string]any{"runId": "r4"},
		"key":  "d1",
	})
	resolveReq := rpc.Frame{Kind: rpc.KindRequestFrame, ID: "res-1", Method: rpc.MethodResolveDelay, Payload: resolvePayload}
	data, _ := json.Marshal(resolveReq)
	serverSide.Send(context.Background(), data)

	recvFrame(t, serverSide) // ack for RESOLVE_DELAY

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waitFor never resumed")
	}

	complete := recvFrame(t, serverSide)
	if complete.Method != rpc.MethodCompleteWorkflow {
		t.Fatalf("expected COMPLETE_WORKFLOW_RUN, got %s", complete.Method)
	}
	ackFrame(t, serverSide, complete.ID, nil)
}

func TestFetchValidatesResultAgainstResponseSchema(t *testing.T) {
	exec, serverSide, client := newTestExecutor()

	result := make(chan FetchResult, 1)
	fetchErr := make(chan error, 1)
	exec.Register(&Workflow{
		ID: "w1",
		Handler: func(ctx context.Context, input json.RawMessage, rc *Context) (any, error) {
			res, err := rc.Fetch(ctx, "f1", "https://example.test", FetchOptions{
				ResponseSchema: schema.Schema{
					"type":     "object",
					"required": []any{"ok"},
				},
			})
			result <- res
			fetchErr <- err
			return map[string]any{"ok": true}, nil
		},
	})

	sendTrigger(t, client, serverSide, "r6", "w1", 0, map[string]any{})

	start := recvFrame(t, serverSide)
	ackFrame(t, serverSide, start.ID, nil)

	fetch := recvFrame(t, serverSide)
	if fetch.Method != rpc.MethodSendFetch {
		t.Fatalf("expected SEND_FETCH, got %s", fetch.Method)
	}
	ackFrame(t, serverSide, fetch.ID, nil)

	resolvePayload, _ := json.Marshal(map[string]any{
		"meta":    map[string]any{"runId": "r6"},
		"key":     "f1",
		"status":  200,
		"ok":      true,
		"headers": map[string]string{"content-type": "application/json"},
		"body":    map[string]any{"ok": true},
	})
	resolveReq := rpc.Frame{Kind: rpc.KindRequestFrame, ID: "res-2", Method: rpc.MethodResolveFetch, Payload: resolvePayload}
	data, _ := json.Marshal(resolveReq)
	serverSide.Send(context.Background(), data)

	recvFrame(t, serverSide) // ack for RESOLVE_FETCH_REQUEST

	select {
	case err := <-fetchErr:
		if err != nil {
			t.Fatalf("expected conforming body to validate, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never resumed")
	}

	res := <-result
	if string(res.Body) != `{"ok":true}` {
		t.Fatalf("expected structured JSON body to round-trip, got %s", res.Body)
	}

	complete := recvFrame(t, serverSide)
	if complete.Method != rpc.MethodCompleteWorkflow {
		t.Fatalf("expected COMPLETE_WORKFLOW_RUN, got %s", complete.Method)
	}
	ackFrame(t, serverSide, complete.ID, nil)
}

func TestFetchRejectsResultFailingResponseSchema(t *testing.T) {
	exec, serverSide, client := newTestExecutor()

	fetchErr := make(chan error, 1)
	exec.Register(&Workflow{
		ID: "w1",
		Handler: func(ctx context.Context, input json.RawMessage, rc *Context) (any, error) {
			_, err := rc.Fetch(ctx, "f1", "https://example.test", FetchOptions{
				ResponseSchema: schema.Schema{
					"type":     "object",
					"required": []any{"ok"},
				},
			})
			fetchErr <- err
			return nil, err
		},
	})

	sendTrigger(t, client, serverSide, "r7", "w1", 0, map[string]any{})

	start := recvFrame(t, serverSide)
	ackFrame(t, serverSide, start.ID, nil)

	fetch := recvFrame(t, serverSide)
	ackFrame(t, serverSide, fetch.ID, nil)

	resolvePayload, _ := json.Marshal(map[string]any{
		"meta":   map[string]any{"runId": "r7"},
		"key":    "f1",
		"status": 200,
		"ok":     true,
		"body":   map[string]any{"notOk": true},
	})
	resolveReq := rpc.Frame{Kind: rpc.KindRequestFrame, ID: "res-3", Method: rpc.MethodResolveFetch, Payload: resolvePayload}
	data, _ := json.Marshal(resolveReq)
	serverSide.Send(context.Background(), data)

	recvFrame(t, serverSide) // ack for RESOLVE_FETCH_REQUEST

	select {
	case err := <-fetchErr:
		if err == nil {
			t.Fatal("expected non-conforming body to be rejected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never resumed")
	}

	errFrame := recvFrame(t, serverSide)
	if errFrame.Method != rpc.MethodSendWorkflowError {
		t.Fatalf("expected SEND_WORKFLOW_ERROR, got %s", errFrame.Method)
	}
	ackFrame(t, serverSide, errFrame.ID, nil)
}

func TestUnknownWorkflowIDIsAckedWithoutPanic(t *testing.T) {
	exec, serverSide, client := newTestExecutor()
	_ = exec

	sendTrigger(t, client, serverSide, "r5", "does-not-exist", 0, map[string]any{})
	// No START/COMPLETE/ERROR frame should follow; give the executor a
	// moment and assert nothing else arrives.
	select {
	case raw := <-serverSide.messages:
		t.Fatalf("expected no further frames, got %s", raw)
	case <-time.After(200 * time.Millisecond):
	}
}
