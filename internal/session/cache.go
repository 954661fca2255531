package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// ErrClosed is returned by Save and Clear after Close.
var ErrClosed = errors.New("session: cache is closed")

// ErrEmptyToken is returned by Save when token is empty.
var ErrEmptyToken = errors.New("session: token must not be empty")

// Cache holds the current session record. Construct with Open.
//
// Logins are stored either in the persistent storage (remembered across
// processes) or in a process-local session storage (forgotten at exit). The
// session storage wins when both hold a token.
type Cache struct {
	persistent Storage
	session    Storage
	logger     *slog.Logger

	mu      sync.Mutex
	current Record
	version uint64
	subs    []subscriber
	nextSub uint64
	closed  bool
	watch   io.Closer
}

// Option configures Open.
type Option func(*Cache)

// WithSessionStorage replaces the in-memory session storage.
func WithSessionStorage(s Storage) Option {
	return func(c *Cache) { c.session = s }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Open loads the current record from storage and, when persistent
// implements Watcher, starts watching it for changes by other processes.
func Open(persistent Storage, opts ...Option) (*Cache, error) {
	c := &Cache{
		persistent: persistent,
		session:    NewMemoryStorage(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}

	rec, err := c.load()
	if err != nil {
		return nil, err
	}
	c.current = rec

	if w, ok := persistent.(Watcher); ok {
		watch, err := w.Watch(c.reloadRemote)
		if err != nil {
			return nil, err
		}
		c.watch = watch
	}
	return c, nil
}

// SaveOption configures a single Save.
type SaveOption func(*saveOptions)

type saveOptions struct {
	sessionOnly bool
}

// SessionOnly keeps the login in process-local storage instead of the
// persistent one, so it is forgotten when the process exits ("remember me"
// unchecked).
func SessionOnly() SaveOption {
	return func(o *saveOptions) { o.sessionOnly = true }
}

// Save stores token and user and notifies subscribers. A nil user removes
// any stored profile. By default the login is persisted.
func (c *Cache) Save(token string, user *Profile, opts ...SaveOption) error {
	if token == "" {
		return ErrEmptyToken
	}
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	set := map[string]string{TokenKey: token}
	var remove []string
	if user != nil {
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("session: encoding user: %w", err)
		}
		set[UserKey] = string(data)
	} else {
		remove = append(remove, UserKey)
	}

	target, other := c.persistent, c.session
	if o.sessionOnly {
		target, other = c.session, c.persistent
	}

	return c.mutate(func() error {
		if err := target.Update(set, remove...); err != nil {
			return err
		}
		return other.Update(nil, TokenKey, UserKey)
	})
}

// Clear removes the token and profile from both storages and notifies
// subscribers.
func (c *Cache) Clear() error {
	return c.mutate(func() error {
		if err := c.session.Update(nil, TokenKey, UserKey); err != nil {
			return err
		}
		return c.persistent.Update(nil, TokenKey, UserKey)
	})
}

// mutate applies write, reloads the record and broadcasts it locally.
// Subscribers run after the lock is released, on the caller's goroutine,
// before mutate returns.
func (c *Cache) mutate(write func() error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := write(); err != nil {
		c.mu.Unlock()
		return err
	}
	rec, err := c.load()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.current = rec
	c.version++
	ev := Event{Name: ChangeEvent, Source: SourceLocal, Record: rec, Version: c.version}
	subs := c.snapshotSubs()
	c.mu.Unlock()

	broadcast(subs, ev)
	return nil
}

// reloadRemote runs on the watcher goroutine after the persistent storage
// changed on disk. Echoes of this cache's own writes reload the record it
// already holds and are dropped here.
func (c *Cache) reloadRemote() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	rec, err := c.load()
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("session reload failed", slog.String("error", err.Error()))
		return
	}
	if rec.equal(c.current) {
		c.mu.Unlock()
		return
	}
	c.current = rec
	c.version++
	ev := Event{Name: ChangeEvent, Source: SourceRemote, Record: rec, Version: c.version}
	subs := c.snapshotSubs()
	c.mu.Unlock()

	c.logger.Debug("session changed by another process", slog.Bool("authenticated", rec.Authenticated()))
	broadcast(subs, ev)
}

// Read returns the current record.
func (c *Cache) Read() Record {
	rec, _ := c.snapshot()
	return rec
}

// snapshot returns the current record and the Version of the event that
// announced it (0 before the first change).
func (c *Cache) snapshot() (Record, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.version
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Subscribe registers fn for every future change and returns a function
// that removes it. Subscribers are called in registration order. fn must
// not call Save or Clear. Concurrent changes may be delivered out of order;
// see Event.Version.
func (c *Cache) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
			c.mu.Unlock()
		})
	}
}

// Close stops the cross-process watch and drops every subscriber. Further
// Save and Clear calls fail with ErrClosed; Read keeps returning the last
// record.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = nil
	watch := c.watch
	c.watch = nil
	c.mu.Unlock()

	// Unlocked: the watcher goroutine may be waiting on c.mu in reloadRemote.
	if watch != nil {
		return watch.Close()
	}
	return nil
}

// load reads the effective record: the session storage if it holds a
// token, else the persistent storage.
func (c *Cache) load() (Record, error) {
	rec, err := c.readFrom(c.session)
	if err != nil {
		return Record{}, err
	}
	if rec.Authenticated() {
		return rec, nil
	}
	return c.readFrom(c.persistent)
}

func (c *Cache) readFrom(s Storage) (Record, error) {
	token, _, err := s.Get(TokenKey)
	if err != nil {
		return Record{}, err
	}
	if token == "" {
		return Record{}, nil
	}

	rec := Record{Token: token}
	raw, ok, err := s.Get(UserKey)
	if err != nil {
		return Record{}, err
	}
	if ok && raw != "" {
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			// A missing profile is tolerated; consumers fall back to the
			// login email.
			c.logger.Debug("ignoring unreadable cached profile", slog.String("error", err.Error()))
		} else {
			rec.User = &p
		}
	}
	return rec, nil
}

func (c *Cache) snapshotSubs() []func(Event) {
	subs := make([]func(Event), len(c.subs))
	for i, s := range c.subs {
		subs[i] = s.fn
	}
	return subs
}

func broadcast(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

// View is one observer's copy of the session record. It is refreshed only
// by change events, never by polling. Events older than the one it already
// applied are ignored.
type View struct {
	mu          sync.Mutex
	record      Record
	version     uint64
	unsubscribe func()

	cbMu     sync.Mutex // serializes onChange calls
	onChange func(Record)
}

// NewView starts from c's current record and follows its events. onChange,
// if non-nil, runs after each update with the view's current record.
func NewView(c *Cache, onChange func(Record)) *View {
	v := &View{onChange: onChange}
	// Subscribe before reading so no event can fall between the two.
	v.unsubscribe = c.Subscribe(v.handle)
	rec, version := c.snapshot()
	v.mu.Lock()
	if version >= v.version {
		v.record, v.version = rec, version
	}
	v.mu.Unlock()
	return v
}

func (v *View) handle(ev Event) {
	v.mu.Lock()
	if ev.Version <= v.version {
		v.mu.Unlock()
		return
	}
	v.record, v.version = ev.Record, ev.Version
	v.mu.Unlock()

	if v.onChange == nil {
		return
	}
	v.cbMu.Lock()
	defer v.cbMu.Unlock()
	v.onChange(v.Current())
}

// Current returns the newest record this view was told about.
func (v *View) Current() Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.record
}

// Label is DisplayLabel for the view's current record.
func (v *View) Label(fallbackEmail string) string {
	return DisplayLabel(v.Current(), fallbackEmail)
}

// Close stops following the cache.
func (v *View) Close() {
	v.unsubscribe()
}
