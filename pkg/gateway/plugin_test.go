package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

type fakeCallbacks struct {
	mu     sync.Mutex
	pushed map[identity.HandleID][]pushedEvent
	ended  map[identity.HandleID]int
	rtcp   map[identity.HandleID]int
}

type pushedEvent struct {
	body json.RawMessage
	jsep json.RawMessage
}

func newFakeCallbacks() *fakeCallbacks {
	return &fakeCallbacks{
		pushed: make(map[identity.HandleID][]pushedEvent),
		ended:  make(map[identity.HandleID]int),
		rtcp:   make(map[identity.HandleID]int),
	}
}

func (f *fakeCallbacks) RelayRTP(identity.HandleID, bool, []byte) error { return nil }

func (f *fakeCallbacks) RelayRTCP(handle identity.HandleID, _ bool, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rtcp[handle]++

	return nil
}

func (f *fakeCallbacks) RelayData(identity.HandleID, []byte) error { return nil }

func (f *fakeCallbacks) SendPLI(identity.HandleID) error { return nil }

func (f *fakeCallbacks) PushEvent(handle identity.HandleID, body []byte, jsep []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushed[handle] = append(f.pushed[handle], pushedEvent{body: body, jsep: jsep})

	return nil
}

func (f *fakeCallbacks) EndSession(handle identity.HandleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ended[handle]++

	return nil
}

func (f *fakeCallbacks) events(handle identity.HandleID) []pushedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]pushedEvent(nil), f.pushed[handle]...)
}

func newTestPlugin(t *testing.T) (*Plugin, *fakeCallbacks) {
	t.Helper()

	cb := newFakeCallbacks()
	p := NewPlugin(cb)

	t.Setenv("CONFIG", "[general]\nmessage_threads = 2\n")

	if err := p.Init(""); err != nil {
		t.Fatalf("init: %v", err)
	}

	t.Cleanup(p.Destroy)

	return p, cb
}

func joinMsg(room, user identity.RoomID, subscribe string) []byte {
	subField := ""
	if subscribe != "" {
		subField = fmt.Sprintf(`,"subscribe":%s`, subscribe)
	}

	return []byte(fmt.Sprintf(`{"kind":"join","room_id":%q,"user_id":%q%s}`, room, user, subField))
}

func waitForEvent(t *testing.T, cb *fakeCallbacks, handle identity.HandleID) pushedEvent {
	t.Helper()

	return waitForNthEvent(t, cb, handle, 0)
}

func waitForNthEvent(t *testing.T, cb *fakeCallbacks, handle identity.HandleID, n int) pushedEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		if evts := cb.events(handle); len(evts) > n {
			return evts[n]
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for event #%d pushed to handle %d", n, handle)

	return pushedEvent{}
}

func TestHandleMessageNullHandleRejected(t *testing.T) {
	p, _ := newTestPlugin(t)

	_, err := p.HandleMessage(NullHandle, "txn", joinMsg("alpha", "u1", ""), nil)
	if err == nil {
		t.Fatal("expected an error for the null handle")
	}
}

func TestCreateSessionJoinAndDestroy(t *testing.T) {
	p, cb := newTestPlugin(t)

	p.CreateSession(1)

	ack, err := p.HandleMessage(1, "txn-1", joinMsg("alpha", "u1", `{"data":true,"notifications":true}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ack != ProcessingAck {
		t.Fatalf("expected %q, got %q", ProcessingAck, ack)
	}

	evt := waitForEvent(t, cb, 1)

	var reply transactionReply
	if err := json.Unmarshal(evt.body, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}

	if reply.Transaction != "txn-1" || !reply.Success {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	p.CreateSession(2)

	if _, err := p.HandleMessage(2, "txn-2", joinMsg("alpha", "u2", `{"data":true,"notifications":true}`), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForEvent(t, cb, 2)

	p.DestroySession(1)

	evt2 := waitForNthEvent(t, cb, 2, 1)

	var leave struct {
		Event  string          `json:"event"`
		UserID identity.UserID `json:"user_id"`
	}

	if err := json.Unmarshal(evt2.body, &leave); err != nil {
		t.Fatalf("unmarshal leave event: %v", err)
	}

	if leave.Event != "leave" || leave.UserID != "u1" {
		t.Fatalf("expected a leave event for u1, got %+v", leave)
	}
}

func TestDestroySessionEmitsOneLeavePerUserAcrossHandles(t *testing.T) {
	p, cb := newTestPlugin(t)

	p.CreateSession(1)
	if _, err := p.HandleMessage(1, "txn-1", joinMsg("alpha", "u1", `{"data":true,"notifications":true}`), nil); err != nil {
		t.Fatalf("u1 publish join: %v", err)
	}
	waitForEvent(t, cb, 1)

	p.CreateSession(2)
	if _, err := p.HandleMessage(2, "txn-2", joinMsg("alpha", "u2", `{"data":true,"notifications":true}`), nil); err != nil {
		t.Fatalf("u2 publish join: %v", err)
	}
	waitForEvent(t, cb, 2)

	p.CreateSession(3)
	subMsg := []byte(`{"kind":"join","room_id":"alpha","user_id":"u2","subscribe":{"media":"u1","notifications":true}}`)
	if _, err := p.HandleMessage(3, "txn-3", subMsg, nil); err != nil {
		t.Fatalf("u2 subscribe join: %v", err)
	}
	waitForEvent(t, cb, 3)

	// u2's publisher handle goes first, as handleKick drives: u2 is still
	// connected via its subscriber handle, so no leave should fire yet.
	p.DestroySession(2)

	// u2's subscriber handle goes next: now u2 has no session left
	// anywhere, so exactly one leave event must reach u1. u1 has already
	// received its own join reply and the join event for u2, so the leave
	// is its third event.
	p.DestroySession(3)

	evt := waitForNthEvent(t, cb, 1, 2)

	var leave struct {
		Event  string          `json:"event"`
		UserID identity.UserID `json:"user_id"`
	}

	if err := json.Unmarshal(evt.body, &leave); err != nil {
		t.Fatalf("unmarshal leave event: %v", err)
	}

	if leave.Event != "leave" || leave.UserID != "u2" {
		t.Fatalf("expected a leave event for u2, got %+v", leave)
	}

	if got := len(cb.events(1)); got != 3 {
		t.Fatalf("expected exactly one leave event pushed to u1's handle (3 events total), got %d", got)
	}
}

func TestHandleMessageUnknownHandleRejected(t *testing.T) {
	p, _ := newTestPlugin(t)

	if _, err := p.HandleMessage(99, "txn", joinMsg("alpha", "u1", ""), nil); err == nil {
		t.Fatal("expected an error for a handle that was never created")
	}
}

func TestQuerySessionAndAdminMessageReserved(t *testing.T) {
	p, _ := newTestPlugin(t)

	if string(p.QuerySession(1)) != "{}" {
		t.Fatal("expected an empty object")
	}

	if string(p.HandleAdminMessage(nil)) != "{}" {
		t.Fatal("expected an empty object")
	}
}
