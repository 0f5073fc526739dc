package remote

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/transport"
)

// fakeTransport scripts command outputs by prefix and records calls.
type fakeTransport struct {
	mu sync.Mutex

	home      string
	dirs      map[string]bool
	files     map[string]int64
	responses map[string][]transport.Result
	execErr   error
	mkdirErr  error
	dlErr     error
	removeErr map[string]error

	commands  []string
	uploads   []string
	removed   []string
	downloads [][]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		home:      "/home/alice",
		dirs:      map[string]bool{},
		files:     map[string]int64{"/home/alice/launch.sh": 120},
		responses: map[string][]transport.Result{},
		removeErr: map[string]error{},
	}
}

func (f *fakeTransport) script(prefix string, results ...transport.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = append(f.responses[prefix], results...)
}

func (f *fakeTransport) Execute(ctx context.Context, command string) (transport.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.execErr != nil {
		return transport.Result{}, f.execErr
	}
	for prefix, queue := range f.responses {
		if !strings.HasPrefix(command, prefix) || len(queue) == 0 {
			continue
		}
		res := queue[0]
		if len(queue) > 1 {
			f.responses[prefix] = queue[1:]
		}
		return res, nil
	}
	return transport.Result{}, nil
}

func (f *fakeTransport) Upload(ctx context.Context, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, remotePath)
	f.files[remotePath] = 1
	return nil
}

func (f *fakeTransport) DownloadMatching(ctx context.Context, remoteDir, localDir string, patterns []string, remove bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, patterns)
	var out []string
	for name := range f.files {
		if path.Dir(name) == remoteDir && transport.MatchAny(patterns, path.Base(name)) {
			out = append(out, localDir+"/"+path.Base(name))
		}
	}
	return out, f.dlErr
}

func (f *fakeTransport) IsDir(ctx context.Context, p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[p], nil
}

func (f *fakeTransport) FileNonEmpty(ctx context.Context, p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[p] > 0, nil
}

func (f *fakeTransport) MakeDir(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mkdirErr != nil {
		return f.mkdirErr
	}
	f.dirs[p] = true
	return nil
}

func (f *fakeTransport) RemoveFile(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[p]; err != nil {
		return err
	}
	f.removed = append(f.removed, p)
	delete(f.files, p)
	return nil
}

func (f *fakeTransport) HomeDir() string { return f.home }

func (f *fakeTransport) Close() error { return nil }

var _ transport.Transport = (*fakeTransport)(nil)
