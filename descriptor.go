package interproc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/ini.v1"
)

// Descriptor is the persisted `{address, port}` record identifying the
// currently-believed server endpoint. It exists iff some process believes
// it is (or recently was) the server.
type Descriptor struct {
	Address string
	Port    int
}

func (d *Descriptor) HostPort() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// Store is the narrow interface over the shared election state. The file
// implementation is what real deployments use; tests may substitute
// `MemoryStore` to inject races deterministically.
type Store interface {
	// Load returns the current record, or `ErrNoDescriptor`.
	Load() (*Descriptor, error)

	// Save persists the record create-exclusively: if a record appeared
	// since the caller observed `ErrNoDescriptor`, it returns
	// `ErrDescriptorExists` so the caller can re-run its election instead
	// of clobbering the winner.
	Save(*Descriptor) error

	// Clear removes the record. Clearing an absent record is not an error.
	Clear() error
}

// WatchableStore is implemented by stores that can signal record changes.
// The liveness monitor uses it as a fast-path hint; polling still decides.
type WatchableStore interface {
	Store

	// Watch returns a subscription whose channel coalesces change signals.
	Watch() (Subscription, error)
}

// Subscription delivers store change signals until closed.
type Subscription interface {
	Events() <-chan struct{}
	Close() error
}

// DefaultDescriptorPath mirrors where the descriptor has always lived:
// the temp directory, the application name, and a fixed "rc" suffix.
func DefaultDescriptorPath(app string) string {
	return filepath.Join(os.TempDir(), app+"rc")
}

// FileStore persists the descriptor as a tiny ini record:
//
//	port = 58111
//	address = 127.0.0.1
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (*Descriptor, error) {
	cfg, err := ini.Load(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDescriptor
		}
		return nil, fmt.Errorf("%w: %w", ErrDescriptorCorrupt, err)
	}

	sec := cfg.Section(ini.DefaultSection)
	if !sec.HasKey("port") {
		// records written by older (QSettings) instances carry a
		// [General] section header.
		if gsec, gerr := cfg.GetSection("General"); gerr == nil {
			sec = gsec
		}
	}

	port, err := sec.Key("port").Int()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDescriptorCorrupt, err)
	}
	address := sec.Key("address").String()
	if address == "" || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: address=%q port=%d", ErrDescriptorCorrupt, address, port)
	}

	return &Descriptor{Address: address, Port: port}, nil
}

func (s *FileStore) Save(d *Descriptor) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrDescriptorExists
		}
		return fmt.Errorf("descriptor: create %q: %w", s.path, err)
	}

	cfg := ini.Empty()
	sec := cfg.Section(ini.DefaultSection)
	sec.Key("port").SetValue(strconv.Itoa(d.Port))
	sec.Key("address").SetValue(d.Address)

	_, werr := cfg.WriteTo(f)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(s.path)
		if werr != nil {
			return fmt.Errorf("descriptor: write %q: %w", s.path, werr)
		}
		return fmt.Errorf("descriptor: write %q: %w", s.path, cerr)
	}
	return nil
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("descriptor: remove %q: %w", s.path, err)
	}
	return nil
}

// Watch registers a filesystem watcher on the descriptor's directory,
// filtered to the descriptor itself. The parent directory is watched
// because the record is removed and recreated across elections.
func (s *FileStore) Watch() (Subscription, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("descriptor: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("descriptor: watch %q: %w", filepath.Dir(s.path), err)
	}
	sub := &fileSubscription{
		name:    filepath.Base(s.path),
		watcher: watcher,
		events:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go sub.run()
	return sub, nil
}

type fileSubscription struct {
	name    string
	watcher *fsnotify.Watcher
	events  chan struct{}
	stop    chan struct{}
	once    sync.Once
}

func (f *fileSubscription) Events() <-chan struct{} {
	return f.events
}

func (f *fileSubscription) Close() error {
	f.once.Do(func() {
		close(f.stop)
		f.watcher.Close()
	})
	return nil
}

func (f *fileSubscription) run() {
	defer close(f.events)
	for {
		select {
		case <-f.stop:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != f.name {
				continue
			}
			f.signal()
		case _, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (f *fileSubscription) signal() {
	select {
	case f.events <- struct{}{}:
	default:
	}
}

// MemoryStore is an in-process `Store`, mainly for tests and for embedding
// several channels in one process.
type MemoryStore struct {
	lk   sync.Mutex
	desc *Descriptor
	subs []*memSubscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*Descriptor, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.desc == nil {
		return nil, ErrNoDescriptor
	}
	cp := *s.desc
	return &cp, nil
}

func (s *MemoryStore) Save(d *Descriptor) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.desc != nil {
		return ErrDescriptorExists
	}
	cp := *d
	s.desc = &cp
	s.notify()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.desc = nil
	s.notify()
	return nil
}

func (s *MemoryStore) Watch() (Subscription, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	sub := &memSubscription{
		store:  s,
		events: make(chan struct{}, 1),
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *MemoryStore) notify() {
	for _, sub := range s.subs {
		select {
		case sub.events <- struct{}{}:
		default:
		}
	}
}

type memSubscription struct {
	store  *MemoryStore
	events chan struct{}
	once   sync.Once
}

func (m *memSubscription) Events() <-chan struct{} {
	return m.events
}

func (m *memSubscription) Close() error {
	m.once.Do(func() {
		m.store.lk.Lock()
		for i, sub := range m.store.subs {
			if sub == m {
				m.store.subs = append(m.store.subs[:i], m.store.subs[i+1:]...)
				break
			}
		}
		m.store.lk.Unlock()
		close(m.events)
	})
	return nil
}
