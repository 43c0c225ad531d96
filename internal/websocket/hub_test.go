package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stemsplit/api/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	return h
}

func newTestClient(jobID string) *Client {
	// No underlying connection: broadcast paths only touch the Send channel.
	return &Client{JobID: jobID, Send: make(chan []byte, 16)}
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame %q", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastReachesRoom(t *testing.T) {
	h := startHub(t)

	c1 := newTestClient("j1")
	c2 := newTestClient("j1")
	other := newTestClient("j2")
	h.Register(c1)
	h.Register(c2)
	h.Register(other)

	h.JobProgress(&model.Event{
		JobID: "j1", Version: 2, Stage: model.StageSeparate, Progress: 40, Ts: 123,
	})

	for _, c := range []*Client{c1, c2} {
		msg := receive(t, c)
		if msg["type"] != model.WSMessageTypeProgress {
			t.Errorf("type = %v", msg["type"])
		}
		if msg["jobId"] != "j1" || msg["version"] != float64(2) || msg["progress"] != float64(40) {
			t.Errorf("frame = %v", msg)
		}
	}

	// Other room stays quiet.
	assertNoFrame(t, other)
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	h := startHub(t)

	c := newTestClient("j1")
	h.Register(c)
	h.Unregister(c)

	// Unregister closes the send channel.
	select {
	case _, ok := <-c.Send:
		if ok {
			t.Fatal("expected closed channel, got frame")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after unregister")
	}

	// Broadcasting to the now-empty room must not panic.
	h.JobProgress(&model.Event{JobID: "j1", Version: 3, Stage: model.StageSeparate, Progress: 50})
}

func TestHub_CompleteAndErrorFrames(t *testing.T) {
	h := startHub(t)

	c := newTestClient("j1")
	h.Register(c)

	h.JobComplete(&model.Event{
		JobID: "j1", Version: 3, Files: map[string]string{"drums": "url"}, Ts: 456,
	})
	msg := receive(t, c)
	if msg["type"] != model.WSMessageTypeComplete {
		t.Errorf("type = %v", msg["type"])
	}
	files, _ := msg["files"].(map[string]interface{})
	if files["drums"] != "url" {
		t.Errorf("files = %v", msg["files"])
	}

	h.JobError(&model.Event{
		JobID: "j1", Version: 4, Code: "OOM", Message: "boom", Retryable: true,
	})
	msg = receive(t, c)
	if msg["type"] != model.WSMessageTypeError {
		t.Errorf("type = %v", msg["type"])
	}
	errObj, _ := msg["error"].(map[string]interface{})
	if errObj["code"] != "OOM" || errObj["retryable"] != true {
		t.Errorf("error = %v", msg["error"])
	}
}

func TestHub_AcceptedFrame(t *testing.T) {
	h := startHub(t)

	c := newTestClient("j1")
	h.Register(c)

	h.JobAccepted("j1", time.Now())
	msg := receive(t, c)
	if msg["type"] != model.WSMessageTypeAccepted || msg["jobId"] != "j1" {
		t.Errorf("frame = %v", msg)
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := startHub(t)

	// Unbuffered and never read, so the first broadcast evicts it.
	slow := &Client{JobID: "j1", Send: make(chan []byte), done: make(chan struct{})}
	healthy := newTestClient("j1")
	h.Register(slow)
	h.Register(healthy)

	// The slow client can't accept the frame and gets evicted; the healthy
	// one still receives it.
	h.JobProgress(&model.Event{JobID: "j1", Version: 2, Stage: model.StageSeparate, Progress: 10})
	receive(t, healthy)

	select {
	case <-slow.done:
	case <-time.After(time.Second):
		t.Fatal("slow client not evicted")
	}

	// Later broadcasts skip the evicted client.
	h.JobProgress(&model.Event{JobID: "j1", Version: 3, Stage: model.StageSeparate, Progress: 20})
	receive(t, healthy)
	assertNoFrame(t, slow)
}

func TestHub_EvictionLeavesSendOpen(t *testing.T) {
	h := startHub(t)

	stalled := &Client{JobID: "j1", Send: make(chan []byte), done: make(chan struct{})}
	h.Register(stalled)

	h.JobProgress(&model.Event{JobID: "j1", Version: 2, Stage: model.StageSeparate, Progress: 10})
	select {
	case <-stalled.done:
	case <-time.After(time.Second):
		t.Fatal("stalled client not evicted")
	}

	// The connection handler's guarded push pattern: after eviction the Send
	// channel is still open, so this select takes the done branch instead of
	// panicking on a closed channel.
	select {
	case stalled.Send <- []byte(`{"type":"pong"}`):
		t.Fatal("push to a stalled client should not be accepted")
	case <-stalled.done:
	}

	// The handler's deferred Unregister still runs after an eviction; the
	// hub must treat it as a no-op.
	h.Unregister(stalled)
	h.JobProgress(&model.Event{JobID: "j1", Version: 3, Stage: model.StageSeparate, Progress: 20})
}

func TestHub_SubscribeDeliversSnapshotFirst(t *testing.T) {
	h := startHub(t)

	snap := &model.JobSnapshot{
		JobID:    "j1",
		Status:   model.JobStatusProcessing,
		Stage:    model.StageSeparate,
		Progress: 40,
		Version:  3,
	}
	c := h.Subscribe("j1", func() *model.JobSnapshot { return snap })

	msg := receive(t, c)
	if msg["type"] != model.WSMessageTypeSnapshot {
		t.Fatalf("first frame type = %v, want snapshot", msg["type"])
	}
	got, _ := msg["snapshot"].(map[string]interface{})
	if got["jobId"] != "j1" || got["version"] != float64(3) || got["progress"] != float64(40) {
		t.Errorf("snapshot frame = %v", got)
	}

	// A delta broadcast after the join lands behind the snapshot.
	h.JobProgress(&model.Event{JobID: "j1", Version: 4, Stage: model.StageSeparate, Progress: 60})
	msg = receive(t, c)
	if msg["type"] != model.WSMessageTypeProgress || msg["version"] != float64(4) {
		t.Errorf("second frame = %v", msg)
	}
}

func TestHub_SubscribeWithoutSnapshotSendsNothing(t *testing.T) {
	h := startHub(t)

	c := h.Subscribe("j1", func() *model.JobSnapshot { return nil })
	assertNoFrame(t, c)

	// The client is still in the room and receives later deltas.
	h.JobProgress(&model.Event{JobID: "j1", Version: 2, Stage: model.StagePreprocess, Progress: 5})
	msg := receive(t, c)
	if msg["type"] != model.WSMessageTypeProgress {
		t.Errorf("frame = %v", msg)
	}
}

func TestHub_SubscribeSerializedWithConcurrentDelta(t *testing.T) {
	h := startHub(t)

	// A writer persists version 4 and broadcasts it while the join is in
	// flight. The join runs inside the hub loop, so the broadcast is
	// processed after it: the subscriber sees the version-4 snapshot first
	// and never an older snapshot behind a newer delta.
	c := h.Subscribe("j1", func() *model.JobSnapshot {
		h.JobProgress(&model.Event{JobID: "j1", Version: 4, Stage: model.StageSeparate, Progress: 80})
		return &model.JobSnapshot{
			JobID:    "j1",
			Status:   model.JobStatusProcessing,
			Stage:    model.StageSeparate,
			Progress: 80,
			Version:  4,
		}
	})

	first := receive(t, c)
	if first["type"] != model.WSMessageTypeSnapshot {
		t.Fatalf("first frame type = %v, want snapshot", first["type"])
	}
	got, _ := first["snapshot"].(map[string]interface{})
	if got["version"] != float64(4) {
		t.Errorf("snapshot version = %v, want 4", got["version"])
	}

	second := receive(t, c)
	if second["type"] != model.WSMessageTypeProgress || second["version"] != float64(4) {
		t.Errorf("second frame = %v", second)
	}
}
