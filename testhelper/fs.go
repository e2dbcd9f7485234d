package testhelper

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// CountingFs wraps an in-memory filesystem, counting opens per path and
// failing writes that contain FailOn.
type CountingFs struct {
	afero.Fs

	// FailOn makes any write containing it fail with FailErr. Empty disables
	// failures.
	FailOn string
	// FailErr is the message of injected write errors. Every failure gets a
	// fresh error with the same message.
	FailErr string

	mu    sync.Mutex
	opens map[string]int
}

// NewCountingFs returns a CountingFs over afero.NewMemMapFs.
func NewCountingFs() *CountingFs {
	return &CountingFs{
		Fs:      afero.NewMemMapFs(),
		FailErr: "disk full",
		opens:   make(map[string]int),
	}
}

// OpenFile implements afero.Fs
func (fs *CountingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.mu.Lock()
	fs.opens[filepath.Clean(name)]++
	fs.mu.Unlock()

	f, err := fs.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &failingFile{File: f, fs: fs}, nil
}

// Opens returns how many times name was opened with OpenFile.
func (fs *CountingFs) Opens(name string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.opens[filepath.Clean(name)]
}

// TotalOpens returns how many times any file was opened with OpenFile.
func (fs *CountingFs) TotalOpens() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, c := range fs.opens {
		n += c
	}
	return n
}

// ReadString returns the contents of name, or an empty string if it can't be
// read.
func (fs *CountingFs) ReadString(name string) string {
	b, err := afero.ReadFile(fs.Fs, name)
	if err != nil {
		return ""
	}
	return string(b)
}

func (fs *CountingFs) shouldFail(p string) bool {
	return fs.FailOn != "" && strings.Contains(p, fs.FailOn)
}

type failingFile struct {
	afero.File
	fs *CountingFs
}

func (f *failingFile) Write(p []byte) (int, error) {
	if f.fs.shouldFail(string(p)) {
		return 0, errors.New(f.fs.FailErr)
	}
	return f.File.Write(p)
}

func (f *failingFile) WriteString(s string) (int, error) {
	if f.fs.shouldFail(s) {
		return 0, errors.New(f.fs.FailErr)
	}
	return f.File.WriteString(s)
}
