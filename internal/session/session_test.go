package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var jane = &Profile{ID: "u1", Name: "Jane", Email: "jane@x.com"}

func openMemory(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(NewMemoryStorage())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func openFile(t *testing.T, path string) *Cache {
	t.Helper()
	c, err := Open(NewFileStorage(path, nil))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// eventLog collects events delivered to a subscriber.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 16)}
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.ch <- ev
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) wait(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session event")
		return Event{}
	}
}

func TestDisplayLabel(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		fallback string
		want     string
	}{
		{"name wins", Record{Token: "t", User: jane}, "typed@x.com", "Jane"},
		{"email when no name", Record{Token: "t", User: &Profile{Email: "e@x.com"}}, "typed@x.com", "e@x.com"},
		{"blank name", Record{Token: "t", User: &Profile{Name: "  ", Email: "e@x.com"}}, "", "e@x.com"},
		{"no profile", Record{Token: "t"}, "typed@x.com", "typed@x.com"},
		{"empty profile", Record{Token: "t", User: &Profile{}}, " typed@x.com ", "typed@x.com"},
		{"nothing", Record{}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayLabel(tt.record, tt.fallback))
		})
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()

	_, ok, err := s.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Update(map[string]string{TokenKey: "t", UserKey: "{}"}))
	v, ok, _ := s.Get(TokenKey)
	assert.True(t, ok)
	assert.Equal(t, "t", v)

	require.NoError(t, s.Update(nil, TokenKey, "never-set"))
	_, ok, _ = s.Get(TokenKey)
	assert.False(t, ok)
	_, ok, _ = s.Get(UserKey)
	assert.True(t, ok)
}

func TestFileStorage_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	a := NewFileStorage(path, nil)
	require.NoError(t, a.Update(map[string]string{TokenKey: "tok"}))

	b := NewFileStorage(path, nil)
	v, ok, err := b.Get(TokenKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStorage_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	c := openFile(t, path)
	require.NoError(t, c.Save("tok", jane))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]string
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "tok", raw[TokenKey])
	assert.JSONEq(t, `{"id":"u1","name":"Jane","email":"jane@x.com"}`, raw[UserKey])
}

func TestFileStorage_MissingAndCorruptFilesAreEmpty(t *testing.T) {
	dir := t.TempDir()

	missing := NewFileStorage(filepath.Join(dir, "missing.json"), nil)
	_, ok, err := missing.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)

	path := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	corrupt := NewFileStorage(path, nil)
	_, ok, err = corrupt.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// A corrupt file can be overwritten by a fresh login.
	require.NoError(t, corrupt.Update(map[string]string{TokenKey: "tok"}))
	v, _, _ := corrupt.Get(TokenKey)
	assert.Equal(t, "tok", v)
}

func TestCache_SaveReadClear(t *testing.T) {
	c := openMemory(t)
	assert.False(t, c.Read().Authenticated())

	require.NoError(t, c.Save("tok", jane))
	rec := c.Read()
	assert.True(t, rec.Authenticated())
	assert.Equal(t, "tok", rec.Token)
	assert.Equal(t, jane, rec.User)

	require.NoError(t, c.Clear())
	assert.Equal(t, Record{}, c.Read())
}

func TestCache_SaveWithoutProfile(t *testing.T) {
	c := openMemory(t)
	require.NoError(t, c.Save("tok", jane))
	require.NoError(t, c.Save("tok2", nil))

	rec := c.Read()
	assert.Equal(t, "tok2", rec.Token)
	assert.Nil(t, rec.User)
	assert.Equal(t, "typed@x.com", DisplayLabel(rec, "typed@x.com"))
}

func TestCache_SaveRejectsEmptyToken(t *testing.T) {
	c := openMemory(t)
	assert.ErrorIs(t, c.Save("", jane), ErrEmptyToken)
	assert.False(t, c.Read().Authenticated())
}

func TestCache_UnreadableProfileIsTolerated(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.Update(map[string]string{TokenKey: "tok", UserKey: "{broken"}))

	c, err := Open(s)
	require.NoError(t, err)
	defer c.Close()

	rec := c.Read()
	assert.Equal(t, "tok", rec.Token)
	assert.Nil(t, rec.User)
}

func TestCache_OpenLoadsExistingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := Open(NewFileStorage(path, nil))
	require.NoError(t, err)
	require.NoError(t, first.Save("tok", jane))
	require.NoError(t, first.Close())

	second := openFile(t, path)
	rec := second.Read()
	assert.Equal(t, "tok", rec.Token)
	assert.Equal(t, jane, rec.User)
}

func TestCache_SessionOnlyIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	c, err := Open(NewFileStorage(path, nil))
	require.NoError(t, err)
	require.NoError(t, c.Save("remembered", jane))
	require.NoError(t, c.Save("fleeting", jane, SessionOnly()))

	assert.Equal(t, "fleeting", c.Read().Token)
	require.NoError(t, c.Close())

	// The next process starts logged out: the session-only login replaced
	// the remembered one and died with the first cache.
	next := openFile(t, path)
	assert.False(t, next.Read().Authenticated())
}

func TestCache_ClearRemovesBothStorages(t *testing.T) {
	session := NewMemoryStorage()
	persistent := NewMemoryStorage()
	c, err := Open(persistent, WithSessionStorage(session))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Save("a", jane, SessionOnly()))
	require.NoError(t, c.Clear())

	for _, s := range []Storage{session, persistent} {
		_, ok, _ := s.Get(TokenKey)
		assert.False(t, ok)
	}
}

func TestCache_BroadcastIsSynchronous(t *testing.T) {
	c := openMemory(t)

	var got []Event
	unsubscribe := c.Subscribe(func(ev Event) { got = append(got, ev) })

	require.NoError(t, c.Save("tok", jane))
	// Delivered before Save returned.
	require.Len(t, got, 1)
	assert.Equal(t, ChangeEvent, got[0].Name)
	assert.Equal(t, SourceLocal, got[0].Source)
	assert.Equal(t, "tok", got[0].Record.Token)

	require.NoError(t, c.Clear())
	require.Len(t, got, 2)
	assert.False(t, got[1].Record.Authenticated())

	unsubscribe()
	unsubscribe() // idempotent
	require.NoError(t, c.Save("again", nil))
	assert.Len(t, got, 2)
}

func TestCache_FailedWriteDoesNotBroadcast(t *testing.T) {
	c, err := Open(failingStorage{})
	require.NoError(t, err)
	defer c.Close()

	called := false
	c.Subscribe(func(Event) { called = true })

	assert.Error(t, c.Save("tok", jane))
	assert.False(t, called)
	assert.False(t, c.Read().Authenticated())
}

type failingStorage struct{}

func (failingStorage) Get(string) (string, bool, error) { return "", false, nil }
func (failingStorage) Update(map[string]string, ...string) error {
	return errors.New("disk full")
}

func TestCache_Close(t *testing.T) {
	c, err := Open(NewMemoryStorage())
	require.NoError(t, err)
	require.NoError(t, c.Save("tok", jane))

	called := false
	c.Subscribe(func(Event) { called = true })

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Save("tok2", nil), ErrClosed)
	assert.ErrorIs(t, c.Clear(), ErrClosed)
	assert.False(t, called)
	assert.Equal(t, "tok", c.Read().Token)
}

// Scenario: one observer saves, a second observer in the same process sees
// the new value because the broadcast told it, not because it polled.
func TestView_UpdatedOnlyByBroadcast(t *testing.T) {
	c := openMemory(t)

	// Registered first, so it runs before the view's handler.
	var seenDuringBroadcast Record
	var storedDuringBroadcast Record
	var view *View
	c.Subscribe(func(Event) {
		seenDuringBroadcast = view.Current()
		storedDuringBroadcast = c.Read()
	})

	view = NewView(c, nil)
	assert.False(t, view.Current().Authenticated())

	require.NoError(t, c.Save("tok", jane))

	// The cache already held the new record while the view was still stale.
	assert.Equal(t, "tok", storedDuringBroadcast.Token)
	assert.False(t, seenDuringBroadcast.Authenticated())

	// Once the broadcast reached the view it reflects the save.
	assert.Equal(t, "tok", view.Current().Token)
	assert.Equal(t, "Jane", view.Label(""))

	require.NoError(t, c.Clear())
	assert.False(t, view.Current().Authenticated())
	assert.Equal(t, "typed@x.com", view.Label("typed@x.com"))
}

func TestView_CallbackAndClose(t *testing.T) {
	c := openMemory(t)

	var labels []string
	view := NewView(c, func(r Record) { labels = append(labels, DisplayLabel(r, "fallback")) })

	require.NoError(t, c.Save("tok", jane))
	view.Close()
	require.NoError(t, c.Save("tok2", &Profile{Email: "other@x.com"}))

	assert.Equal(t, []string{"Jane"}, labels)
	assert.Equal(t, "tok", view.Current().Token)
}

func TestView_StartsFromCurrentRecord(t *testing.T) {
	c := openMemory(t)
	require.NoError(t, c.Save("tok", jane))

	view := NewView(c, nil)
	defer view.Close()
	assert.Equal(t, "tok", view.Current().Token)
}

func TestCache_EventVersionsIncrease(t *testing.T) {
	c := openMemory(t)
	log := newEventLog()
	c.Subscribe(log.handle)

	require.NoError(t, c.Save("tok", jane))
	require.NoError(t, c.Clear())

	assert.Equal(t, uint64(1), log.wait(t).Version)
	assert.Equal(t, uint64(2), log.wait(t).Version)
}

func TestView_IgnoresEventsDeliveredOutOfOrder(t *testing.T) {
	c := openMemory(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	// Holds up delivery of "A" so the later save of "B" overtakes it.
	c.Subscribe(func(ev Event) {
		if ev.Record.Token == "A" {
			close(entered)
			<-release
		}
	})
	view := NewView(c, nil)
	defer view.Close()

	done := make(chan error, 1)
	go func() { done <- c.Save("A", nil) }()
	<-entered

	require.NoError(t, c.Save("B", nil))
	assert.Equal(t, "B", view.Current().Token)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "B", c.Read().Token)
	assert.Equal(t, "B", view.Current().Token)
}

// Two caches on one file stand in for two processes: each cache drops the
// echoes of its own writes.
func TestCache_CrossProcessSignal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	writer := openFile(t, path)
	reader := openFile(t, path)

	writerLog := newEventLog()
	readerLog := newEventLog()
	writer.Subscribe(writerLog.handle)
	reader.Subscribe(readerLog.handle)

	require.NoError(t, writer.Save("tok", jane))

	local := writerLog.wait(t)
	assert.Equal(t, SourceLocal, local.Source)

	remote := readerLog.wait(t)
	assert.Equal(t, ChangeEvent, remote.Name)
	assert.Equal(t, SourceRemote, remote.Source)
	assert.Equal(t, "tok", remote.Record.Token)
	assert.Equal(t, jane, remote.Record.User)
	assert.Equal(t, "tok", reader.Read().Token)

	require.NoError(t, writer.Clear())
	writerLog.wait(t)
	cleared := readerLog.wait(t)
	assert.Equal(t, SourceRemote, cleared.Source)
	assert.False(t, cleared.Record.Authenticated())

	// Give any echo of the writer's own writes time to arrive.
	time.Sleep(200 * time.Millisecond)
	for _, ev := range writerLog.all() {
		assert.Equal(t, SourceLocal, ev.Source, "writer must not hear its own writes as remote")
	}
	assert.Len(t, writerLog.all(), 2)
}

func TestCache_ExternalDeleteIsSignalled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	c := openFile(t, path)
	log := newEventLog()
	c.Subscribe(log.handle)

	require.NoError(t, c.Save("tok", jane))
	log.wait(t)

	require.NoError(t, os.Remove(path))

	ev := log.wait(t)
	assert.Equal(t, SourceRemote, ev.Source)
	assert.False(t, ev.Record.Authenticated())
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "local", SourceLocal.String())
	assert.Equal(t, "remote", SourceRemote.String())
	assert.Equal(t, "unknown", Source(9).String())
}

// A remote write whose bytes equal this process's earlier write must still
// be picked up: A logs out, B logs in, B logs out again.
func TestCache_RemoteWriteMatchingOwnEarlierWriteIsSignalled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	a := openFile(t, path)
	b := openFile(t, path)
	view := NewView(a, nil)
	defer view.Close()

	require.NoError(t, a.Clear())

	require.NoError(t, b.Save("tokB", jane))
	require.Eventually(t, func() bool {
		return a.Read().Token == "tokB"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Clear())
	require.Eventually(t, func() bool {
		return !a.Read().Authenticated() && !view.Current().Authenticated()
	}, 5*time.Second, 10*time.Millisecond)
}
