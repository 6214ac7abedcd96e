// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package distrib

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// testSessionPair returns a registered-side session backed by a real
// loopback connection plus the client end. A background reader drains
// the client end so session sends never block.
func testSessionPair(t *testing.T, id string) (*Session, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := listener.Accept()
		ch <- accepted{conn, err}
	}()

	clientConn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	a := <-ch
	if a.err != nil {
		t.Fatalf("Accept failed: %v", a.err)
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := clientConn.Read(buf); err != nil {
				return
			}
		}
	}()

	session := newSession(id, a.conn, time.Second)
	t.Cleanup(func() {
		session.Close()
		clientConn.Close()
	})
	return session, clientConn
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry(3, nil)

	s, _ := testSessionPair(t, "c1")
	if err := r.Add(s); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count: expected 1, got %d", r.Count())
	}

	if _, ok := r.Get("c1"); !ok {
		t.Error("Expected to find c1")
	}

	r.Remove("c1")
	if r.Count() != 0 {
		t.Errorf("Count after remove: expected 0, got %d", r.Count())
	}

	// Removing again is a no-op.
	r.Remove("c1")
	r.Remove("never-existed")
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2, nil)

	s1, _ := testSessionPair(t, "c1")
	s2, _ := testSessionPair(t, "c2")
	s3, _ := testSessionPair(t, "c3")

	if err := r.Add(s1); err != nil {
		t.Fatalf("Add c1 failed: %v", err)
	}
	if err := r.Add(s2); err != nil {
		t.Fatalf("Add c2 failed: %v", err)
	}
	if err := r.Add(s3); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Expected ErrCapacityExceeded, got %v", err)
	}
	if r.Count() != 2 {
		t.Errorf("Count: expected 2, got %d", r.Count())
	}
}

func TestRegistryCapacity_Concurrent(t *testing.T) {
	const limit = 10
	const attempts = 40

	r := NewRegistry(limit, nil)

	sessions := make([]*Session, attempts)
	for i := range sessions {
		sessions[i], _ = testSessionPair(t, fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	var added int64
	var addedMu sync.Mutex

	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := r.Add(s); err == nil {
				addedMu.Lock()
				added++
				addedMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if added != limit {
		t.Errorf("Expected exactly %d successful adds, got %d", limit, added)
	}
	if r.Count() != limit {
		t.Errorf("Count: expected %d, got %d", limit, r.Count())
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry(10, nil)

	const total = 5
	const dead = 2

	for i := 0; i < total; i++ {
		s, _ := testSessionPair(t, fmt.Sprintf("c%d", i))
		if err := r.Add(s); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		// Kill the first `dead` transports after registration.
		if i < dead {
			s.Close()
		}
	}

	sent := r.Broadcast(MsgData, []byte("report"))
	if sent != total-dead {
		t.Errorf("Broadcast: expected %d deliveries, got %d", total-dead, sent)
	}
	if r.Count() != total-dead {
		t.Errorf("Count after broadcast: expected %d, got %d", total-dead, r.Count())
	}
}

func TestRegistrySendTo(t *testing.T) {
	r := NewRegistry(10, nil)

	s, _ := testSessionPair(t, "c1")
	if err := r.Add(s); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := r.SendTo("c1", MsgData, []byte("hello")); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}

	if err := r.SendTo("nope", MsgData, nil); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("Expected ErrClientNotFound, got %v", err)
	}

	// A send on a dead transport removes the session.
	s.Close()
	if err := r.SendTo("c1", MsgData, nil); err == nil {
		t.Error("Expected error sending to closed session")
	}
	if r.Count() != 0 {
		t.Errorf("Count: expected 0 after failed send, got %d", r.Count())
	}
}

func TestRegistryIDs(t *testing.T) {
	r := NewRegistry(10, nil)

	for i := 0; i < 3; i++ {
		s, _ := testSessionPair(t, fmt.Sprintf("c%d", i))
		if err := r.Add(s); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	ids := r.IDs()
	if len(ids) != 3 {
		t.Errorf("Expected 3 ids, got %d", len(ids))
	}
}

func TestSessionCloseOnce(t *testing.T) {
	s, _ := testSessionPair(t, "c1")

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Subsequent closes are no-ops, never double-close errors.
	if err := s.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	if err := s.Send(MsgPing, nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionTouch(t *testing.T) {
	s, _ := testSessionPair(t, "c1")

	before := s.LastActivity()
	time.Sleep(10 * time.Millisecond)
	s.Touch()
	if !s.LastActivity().After(before) {
		t.Error("Touch should advance the activity timestamp")
	}
}
