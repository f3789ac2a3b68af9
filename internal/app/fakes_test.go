package app

import (
	"context"
	"sync"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/internal/ports"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

type fakeDiscoverer struct {
	cartridges map[string]domain.Cartridge
	err        error
	skipped    []error
}

func (f *fakeDiscoverer) Discover(root string) (map[string]domain.Cartridge, error) {
	return f.cartridges, f.err
}

func (f *fakeDiscoverer) Skipped() []error { return f.skipped }

type fakePackager struct {
	resetErr error
	fail     map[string]error

	mu     sync.Mutex
	packed []string
}

func (f *fakePackager) ResetOutputDirectory() error { return f.resetErr }

func (f *fakePackager) Pack(c domain.Cartridge) (domain.Archive, error) {
	if err := f.fail[c.Name]; err != nil {
		return domain.Archive{}, err
	}
	f.mu.Lock()
	f.packed = append(f.packed, c.Name)
	f.mu.Unlock()
	return domain.Archive{Cartridge: c.Name, Path: "/out/" + domain.ArchiveName(c.Name)}, nil
}

// fakeStore records every call as "VERB path". block, when set, is consulted
// before a PutFile returns.
type fakeStore struct {
	mu         sync.Mutex
	calls      []string
	deployed   []string
	failDeploy map[string]error
	block      func(ctx context.Context, remotePath string) error

	// deployBlock, when set, is consulted before a DeployArchive returns.
	deployBlock func(ctx context.Context, cartridge string) error
}

func (f *fakeStore) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) Deployed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deployed...)
}

func (f *fakeStore) PutFile(ctx context.Context, localPath, remotePath string) error {
	if f.block != nil {
		if err := f.block(ctx, remotePath); err != nil {
			return err
		}
	}
	f.record("PUT " + remotePath)
	return nil
}

func (f *fakeStore) DeletePath(ctx context.Context, remotePath string) error {
	f.record("DELETE " + remotePath)
	return nil
}

func (f *fakeStore) MakeDirectory(ctx context.Context, remotePath string) error {
	f.record("MKCOL " + remotePath)
	return nil
}

func (f *fakeStore) RequestUnpack(ctx context.Context, name string) error {
	f.record("UNZIP " + name)
	return nil
}

func (f *fakeStore) DeployArchive(ctx context.Context, localArchivePath, cartridgeName string) error {
	if f.deployBlock != nil {
		if err := f.deployBlock(ctx, cartridgeName); err != nil {
			return err
		}
	}
	if err := f.failDeploy[cartridgeName]; err != nil {
		return &domain.DeployError{Cartridge: cartridgeName, Step: domain.StepUpload, Err: err}
	}
	f.mu.Lock()
	f.deployed = append(f.deployed, cartridgeName)
	f.mu.Unlock()
	return nil
}

type fakeWatcher struct {
	events chan domain.WatchEvent
	errors chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan domain.WatchEvent, 16),
		errors: make(chan error, 1),
	}
}

func (w *fakeWatcher) Events() <-chan domain.WatchEvent { return w.events }
func (w *fakeWatcher) Errors() <-chan error             { return w.errors }
func (w *fakeWatcher) Close() error                     { return nil }

type fakeWatchers struct {
	mu       sync.Mutex
	watchers map[string]*fakeWatcher
	fail     map[string]error
}

func newFakeWatchers() *fakeWatchers {
	return &fakeWatchers{watchers: make(map[string]*fakeWatcher)}
}

func (f *fakeWatchers) Watch(ctx context.Context, c domain.Cartridge) (ports.Watcher, error) {
	if err := f.fail[c.Name]; err != nil {
		return nil, &domain.WatchRegistrationError{Cartridge: c.Name, Path: c.Path, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := newFakeWatcher()
	f.watchers[c.Name] = w
	return w, nil
}

func (f *fakeWatchers) get(name string) *fakeWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers[name]
}

func (f *fakeWatchers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

type logEntry struct {
	level  string
	msg    string
	fields []log.Field
}

// recordingLogger keeps every entry written to it.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, fields []log.Field) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, fields ...log.Field) { l.add("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...log.Field)  { l.add("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...log.Field)  { l.add("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...log.Field) { l.add("error", msg, fields) }

// find returns the first entry with the given level and message.
func (l *recordingLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}
