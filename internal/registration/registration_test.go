package registration

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/rpc"
)

// fakeChannel is an in-memory transport.Channel pair, mirroring the one in
// internal/rpc's own tests, used here to drive a real rpc.Client end to end.
type fakeChannel struct {
	out      chan []byte
	messages chan []byte
	closed   chan error
}

func newFakePair() (*fakeChannel, *fakeChannel) {
	aToB := make(chan []byte, 16)
	bToA := make(chan []byte, 16)
	a := &fakeChannel{out: aToB, messages: bToA, closed: make(chan error, 1)}
	b := &fakeChannel{out: bToA, messages: aToB, closed: make(chan error, 1)}
	return a, b
}

func (f *fakeChannel) Open(ctx context.Context) error { return nil }
func (f *fakeChannel) Send(ctx context.Context, frame []byte) error {
	f.out <- frame
	return nil
}
func (f *fakeChannel) Messages() <-chan []byte { return f.messages }
func (f *fakeChannel) Closed() <-chan error     { return f.closed }
func (f *fakeChannel) Close(code int, reason string) error { return nil }

func TestHandshakeSuccessReturnsRecord(t *testing.T) {
	t.Setenv("TRIGGER_API_KEY", "should-not-be-forwarded")
	t.Setenv("TRIGGER_FOO", "bar")

	clientSide, serverSide := newFakePair()
	client := rpc.New(rpc.ClientToServer, rpc.ServerToClient, zap.NewNop())
	client.ResetConnection(clientSide)

	go func() {
		raw := <-serverSide.messages
		var frame rpc.Frame
		_ = json.Unmarshal(raw, &frame)

		var sent map[string]any
		_ = json.Unmarshal(frame.Payload, &sent)
		meta := sent["metadata"].(map[string]any)
		env := meta["env"].(map[string]any)
		if _, found := env["API_KEY"]; found {
			t.Error("TRIGGER_API_KEY must not be forwarded")
		}
		if env["FOO"] != "bar" {
			t.Error("expected TRIGGER_FOO to be forwarded as FOO")
		}

		ok := true
		data, _ := json.Marshal(map[string]any{
			"type": "success",
			"data": map[string]any{
				"workflow":     map[string]any{"id": "w1", "slug": "w1"},
				"environment":  map[string]any{"id": "e", "slug": "e"},
				"organization": map[string]any{"id": "o", "slug": "o"},
				"isNew":        true,
				"url":          "https://x/",
			},
		})
		resp := rpc.Frame{Kind: rpc.KindResponseFrame, ID: frame.ID, OK: &ok, Value: data}
		respData, _ := json.Marshal(resp)
		serverSide.Send(context.Background(), respData)
	}()

	h := New(Config{
		APIKey:         "key-123",
		WorkflowID:     "w1",
		WorkflowName:   "example",
		PackageName:    "example-pkg",
		PackageVersion: "1.0.0",
		WorkDir:        os.TempDir(),
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := h.Handshake(ctx, client)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if rec.Workflow.ID != "w1" || !rec.IsNew {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPackageMetadataPrefersExplicitManifestPath(t *testing.T) {
	dir := t.TempDir()
	explicit := writeManifest(t, dir, "explicit.json", map[string]any{"instrumentHttp": false})
	envPath := writeManifest(t, dir, "env.json", map[string]any{"instrumentHttp": true})
	t.Setenv("TRIGGER_PACKAGE_JSON", envPath)

	h := New(Config{ManifestPath: explicit}, zap.NewNop())
	meta := h.packageMetadata()
	if meta["instrumentHttp"] != false {
		t.Fatalf("expected explicit ManifestPath to win, got %+v", meta)
	}
}

func TestPackageMetadataFallsBackToTriggerPackageJSONEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := writeManifest(t, dir, "env.json", map[string]any{"instrumentHttp": true})
	t.Setenv("TRIGGER_PACKAGE_JSON", envPath)

	h := New(Config{}, zap.NewNop())
	meta := h.packageMetadata()
	if meta["instrumentHttp"] != true {
		t.Fatalf("expected TRIGGER_PACKAGE_JSON manifest to be read, got %+v", meta)
	}
}

func TestPackageMetadataFallsBackToNpmPackageJSONEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := writeManifest(t, dir, "env.json", map[string]any{"instrumentHttp": true})
	t.Setenv("npm_package_json", envPath)

	h := New(Config{}, zap.NewNop())
	meta := h.packageMetadata()
	if meta["instrumentHttp"] != true {
		t.Fatalf("expected npm_package_json manifest to be read, got %+v", meta)
	}
}

func TestPackageMetadataFallsBackToEnvProjectionWhenNoManifest(t *testing.T) {
	t.Setenv("npm_package_triggerdotdev_instrumentHttp", "true")

	h := New(Config{}, zap.NewNop())
	meta := h.packageMetadata()
	if meta["instrumentHttp"] != "true" {
		t.Fatalf("expected npm_package_triggerdotdev_* projection, got %+v", meta)
	}
}

func writeManifest(t *testing.T, dir, name string, triggerSection map[string]any) string {
	t.Helper()
	path := dir + string(os.PathSeparator) + name
	data, err := json.Marshal(map[string]any{"triggerdotdev": triggerSection})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestHandshakeErrorResponseIsReturnedAsError(t *testing.T) {
	clientSide, serverSide := newFakePair()
	client := rpc.New(rpc.ClientToServer, rpc.ServerToClient, zap.NewNop())
	client.ResetConnection(clientSide)

	go func() {
		raw := <-serverSide.messages
		var frame rpc.Frame
		_ = json.Unmarshal(raw, &frame)

		ok := true
		data, _ := json.Marshal(map[string]any{"type": "error", "message": "invalid api key"})
		resp := rpc.Frame{Kind: rpc.KindResponseFrame, ID: frame.ID, OK: &ok, Value: data}
		respData, _ := json.Marshal(resp)
		serverSide.Send(context.Background(), respData)
	}()

	h := New(Config{APIKey: "bad-key", WorkflowID: "w1"}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := h.Handshake(ctx, client)
	if err == nil {
		t.Fatal("expected error for {type:\"error\"} response")
	}
}
