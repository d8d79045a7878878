package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/domain"
)

type recordingEmitter struct {
	mu      sync.Mutex
	frames  []Frame
	sendErr error
	closed  bool
}

func (e *recordingEmitter) Send(frame []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErr != nil {
		return e.sendErr
	}
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	e.frames = append(e.frames, f)
	return nil
}

func (e *recordingEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *recordingEmitter) Frames() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Frame, len(e.frames))
	copy(out, e.frames)
	return out
}

func (e *recordingEmitter) Events(event string) []Frame {
	var out []Frame
	for _, f := range e.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (e *recordingEmitter) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func userIdentity(name string) domain.Identity {
	return domain.Identity{AccountID: uuid.New(), Username: name, Role: domain.RoleUser}
}

func adminIdentity(name string) domain.Identity {
	return domain.Identity{AccountID: uuid.New(), Username: name, Role: domain.RoleAdmin}
}

func register(t *testing.T, reg *Registry, identity domain.Identity) (*Session, *recordingEmitter) {
	t.Helper()
	em := &recordingEmitter{}
	sess, err := reg.Register(NewConnID(), identity, em)
	require.NoError(t, err)
	return sess, em
}

func decodeData[T any](t *testing.T, f Frame) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(f.Data, &out))
	return out
}
