package channel

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Access controls which kinds of requests a dispatcher may serve for a
// channel.
type Access uint8

const (
	// FullAccess channels are written locally and may serve remote requests.
	FullAccess Access = iota
	// Private channels are only written by the dispatcher that binds them.
	Private
	// RemoteAccessOnly channels can only be submitted to, never written
	// by the binding dispatcher.
	RemoteAccessOnly
)

func (a Access) String() string {
	switch a {
	case FullAccess:
		return "full"
	case Private:
		return "private"
	case RemoteAccessOnly:
		return "remote"
	default:
		return fmt.Sprintf("Access(%d)", uint8(a))
	}
}

// ParseAccess returns the Access named by s.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full", "fullaccess":
		return FullAccess, nil
	case "private":
		return Private, nil
	case "remote", "remoteonly", "remoteaccessonly":
		return RemoteAccessOnly, nil
	}
	return FullAccess, errors.Errorf("unknown access: %q", s)
}

// Channel is a named log destination. Two channels are the same channel when
// their names match, even if they are distinct instances.
type Channel struct {
	Name           string
	Access         Access
	GameControlled bool
	Props          *Properties

	enabled atomic.Bool
}

// Option configures a Channel created by New.
type Option func(c *Channel)

// WithFolder sets the folder the channel's file lives in.
func WithFolder(dir string) Option {
	return func(c *Channel) { c.Props.SetFolderPath(dir) }
}

// WithFilename overrides the default <name>.log filename.
func WithFilename(name string) Option {
	return func(c *Channel) { c.Props.setFilename(name) }
}

// WithRules adds rules to the channel's rule list.
func WithRules(rules ...*Rule) Option {
	return func(c *Channel) {
		for _, r := range rules {
			c.Props.Rules.Add(r)
		}
	}
}

// GameControlled marks the channel as owned by the host engine.
func GameControlled() Option {
	return func(c *Channel) { c.GameControlled = true }
}

// ShowLogsAware gates the channel on the process-wide show-logs flag.
func ShowLogsAware() Option {
	return func(c *Channel) { c.Props.ShowLogsAware = true }
}

// Disabled creates the channel in the disabled state.
func Disabled() Option {
	return func(c *Channel) { c.enabled.Store(false) }
}

// New returns an enabled channel.
func New(name string, access Access, opts ...Option) *Channel {
	c := &Channel{
		Name:   name,
		Access: access,
		Props:  newProperties(name),
	}
	c.enabled.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the channel accepts log calls.
func (c *Channel) Enabled() bool {
	return c.enabled.Load()
}

// SetEnabled toggles the channel.
func (c *Channel) SetEnabled(v bool) {
	c.enabled.Store(v)
}

// Equals compares channel identity by name.
func (c *Channel) Equals(o *Channel) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Name == o.Name
}

// Clone returns a distinct instance of the same channel. Path data is copied
// and may go stale relative to c. The rule list and handle record belong to
// the channel identity and are shared.
func (c *Channel) Clone() *Channel {
	n := &Channel{
		Name:           c.Name,
		Access:         c.Access,
		GameControlled: c.GameControlled,
		Props:          c.Props.clone(),
	}
	n.enabled.Store(c.Enabled())
	return n
}

func (c *Channel) String() string {
	return c.Name
}

// Properties holds the resolved path binding and write policy of a channel.
type Properties struct {
	mu       sync.RWMutex
	folder   string
	filename string
	exists   atomic.Bool

	// ShowLogsAware channels are only written when the process-wide
	// show-logs flag is on.
	ShowLogsAware bool

	// Rules are applied to every message before it is persisted.
	Rules *RuleList

	// Record remembers the last rejection recorded for this channel.
	Record *HandleRecord
}

func newProperties(name string) *Properties {
	return &Properties{
		filename: name + ".log",
		Rules:    NewRuleList(),
		Record:   &HandleRecord{},
	}
}

func (p *Properties) clone() *Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := &Properties{
		folder:        p.folder,
		filename:      p.filename,
		ShowLogsAware: p.ShowLogsAware,
		Rules:         p.Rules,
		Record:        p.Record,
	}
	n.exists.Store(p.exists.Load())
	return n
}

// FolderPath returns the resolved folder of the channel's file.
func (p *Properties) FolderPath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.folder
}

// SetFolderPath moves the channel to a new folder. The file is considered
// missing until created there.
func (p *Properties) SetFolderPath(dir string) {
	p.mu.Lock()
	p.folder = filepath.Clean(dir)
	p.mu.Unlock()
	p.exists.Store(false)
}

// Filename returns the channel's file name.
func (p *Properties) Filename() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filename
}

func (p *Properties) setFilename(name string) {
	p.mu.Lock()
	p.filename = name
	p.mu.Unlock()
	p.exists.Store(false)
}

// FilePath returns the full path of the channel's file.
func (p *Properties) FilePath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return filepath.Join(p.folder, p.filename)
}

// FileExists reports whether the file is known to be available.
func (p *Properties) FileExists() bool {
	return p.exists.Load()
}

// SetFileExists records file availability.
func (p *Properties) SetFileExists(v bool) {
	p.exists.Store(v)
}

// HandleRecord is the durable record of the last rejection for a channel.
// Code 0 means nothing is outstanding.
type HandleRecord struct {
	mu   sync.Mutex
	code uint8
}

// SetCode records a rejection code.
func (r *HandleRecord) SetCode(code uint8) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}

// Code returns the recorded rejection code.
func (r *HandleRecord) Code() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Rejected reports whether a rejection is on record.
func (r *HandleRecord) Rejected() bool {
	return r.Code() != 0
}

// Reset clears the record.
func (r *HandleRecord) Reset() {
	r.SetCode(0)
}
