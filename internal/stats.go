package internal

import (
	"bytes"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Stats is a struct containing internal counters
type Stats struct {
	startedAt time.Time

	counts  map[string]int64
	countMu sync.Mutex
}

// Counter keys reported by the engine.
const (
	StatSubmitted  = "requests_submitted"
	StatCompleted  = "requests_completed"
	StatRejected   = "requests_rejected"
	StatRetried    = "requests_retried"
	StatDumped     = "requests_dumped"
	StatWrites     = "lines_written"
	StatQueued     = "lines_queued"
	StatFileOpens  = "file_opens"
	StatFlushes    = "flushes"
	StatFlushError = "flush_errors"
)

var allStatKeys = []string{
	StatSubmitted,
	StatCompleted,
	StatRejected,
	StatRetried,
	StatDumped,
	StatWrites,
	StatQueued,
	StatFileOpens,
	StatFlushes,
	StatFlushError,
}

// NewStats returns a new instance of Stats
func NewStats() *Stats {

	s := &Stats{
		startedAt: time.Now().UTC(),
		counts:    make(map[string]int64),
	}

	for _, k := range allStatKeys {
		s.counts[k] = 0
	}

	return s
}

func (s *Stats) Set(key string, val int64) {
	if s == nil {
		return
	}
	s.countMu.Lock()
	defer s.countMu.Unlock()

	s.counts[key] = val
}

func (s *Stats) Add(key string, val int64) {
	if s == nil {
		return
	}
	s.countMu.Lock()
	defer s.countMu.Unlock()

	s.counts[key] += val
}

func (s *Stats) Incr(key string) {
	s.Add(key, 1)
}

func (s *Stats) Decr(key string) {
	s.Add(key, -1)
}

// Get returns the current value of a counter.
func (s *Stats) Get(key string) int64 {
	if s == nil {
		return 0
	}
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return s.counts[key]
}

func (s *Stats) Bytes() []byte {
	s.countMu.Lock()
	defer s.countMu.Unlock()

	buf := bytes.NewBuffer([]byte{})
	var keys []string

	for k := range s.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeStringOrPanic(buf, "uptime: ")
	writeStringOrPanic(buf, time.Since(s.startedAt).Truncate(time.Millisecond).String())
	writeStringOrPanic(buf, "\n")

	for _, k := range keys {
		v := s.counts[k]

		writeStringOrPanic(buf, k)
		writeStringOrPanic(buf, ": ")

		writeStringOrPanic(buf, strconv.FormatInt(v, 10))
		writeStringOrPanic(buf, "\n")
	}

	return buf.Bytes()
}

func writeStringOrPanic(buf *bytes.Buffer, s string) {
	if _, err := buf.WriteString(s); err != nil {
		panic(err)
	}
}
