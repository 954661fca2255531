package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Storage is a small string key/value medium, the client-side equivalent of
// browser local storage.
type Storage interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Update writes every entry in set and deletes every key in remove as a
	// single change.
	Update(set map[string]string, remove ...string) error
}

// Watcher is implemented by storages that can see changes made by other
// processes. onChange runs on an internal goroutine. It may also fire for
// the storage's own writes, so callers compare what they reload with what
// they already hold. Closing the returned io.Closer stops the watch and
// waits for that goroutine to exit.
type Watcher interface {
	Watch(onChange func()) (io.Closer, error)
}

// MemoryStorage keeps values for the life of the process. It is used for
// session-only logins and in tests.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Update(set map[string]string, remove ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range set {
		m.values[k] = v
	}
	for _, k := range remove {
		delete(m.values, k)
	}
	return nil
}

// FileStorage persists values as a JSON object in a single file:
//
//	{"auth.token": "eyJhbGciOi...", "auth.user": "{\"id\":\"...\",\"email\":\"...\"}"}
//
// Writes go to a temp file in the same directory and are renamed into place,
// so readers never see a partial file. The file is created with mode 0600.
type FileStorage struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex // serializes read-modify-write in Update
}

var _ Watcher = (*FileStorage)(nil)

// NewFileStorage returns a storage backed by path. The file and its
// directory are created on first write. logger may be nil.
func NewFileStorage(path string, logger *slog.Logger) *FileStorage {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileStorage{path: path, logger: logger}
}

// Path returns the backing file's path.
func (f *FileStorage) Path() string {
	return f.path
}

func (f *FileStorage) Get(key string) (string, bool, error) {
	values, _, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStorage) Update(set map[string]string, remove ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, _, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range set {
		values[k] = v
	}
	for _, k := range remove {
		delete(values, k)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding storage: %w", err)
	}

	return f.writeAtomic(data)
}

// load reads the file. A missing file is an empty map. A file that does not
// parse is logged and treated as empty so one bad write cannot lock the user
// out of logging in again.
func (f *FileStorage) load() (map[string]string, []byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session: reading %s: %w", f.path, err)
	}

	values := make(map[string]string)
	if len(bytes.TrimSpace(data)) == 0 {
		return values, data, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		f.logger.Warn("session file is corrupt, ignoring it",
			slog.String("path", f.path),
			slog.String("error", err.Error()),
		)
		return make(map[string]string), data, nil
	}
	return values, data, nil
}

func (f *FileStorage) writeAtomic(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("session: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("session: replacing %s: %w", f.path, err)
	}
	return nil
}

// Watch observes the storage file for changes made by other processes.
//
// The parent directory is watched rather than the file itself: atomic
// writers replace the file by rename, which would silently end a watch
// placed on the old inode. Events for other names in the directory are
// ignored. Echoes of this process's own Update are delivered too: the file
// alone cannot tell them apart from an identical write by another process.
func (f *FileStorage) Watch(onChange func()) (io.Closer, error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: creating %s: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session: creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("session: watching %s: %w", dir, err)
	}

	fw := &fileWatch{watcher: w, done: make(chan struct{})}
	go fw.run(f, onChange)
	return fw, nil
}

type fileWatch struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
	err     error
}

func (fw *fileWatch) run(f *FileStorage, onChange func()) {
	defer close(fw.done)

	name := filepath.Clean(f.path)
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			onChange()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("session watcher error", slog.String("error", err.Error()))
		}
	}
}

func (fw *fileWatch) Close() error {
	fw.once.Do(func() {
		fw.err = fw.watcher.Close()
		<-fw.done
	})
	return fw.err
}
