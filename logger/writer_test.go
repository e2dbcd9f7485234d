package logger

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/config"
	"github.com/jeffrom/logroute/filter"
	"github.com/jeffrom/logroute/internal"
	"github.com/jeffrom/logroute/request"
	"github.com/jeffrom/logroute/testhelper"
)

func newTestDeps(t *testing.T) (Deps, *testhelper.CountingFs, *observer.ObservedLogs) {
	t.Helper()
	fs := testhelper.NewCountingFs()
	l, logs := testhelper.ObservedLogger()
	return Deps{
		Fs:       fs,
		Filter:   filter.New(),
		Reported: filter.NewReported(),
		Stats:    internal.NewStats(),
		Log:      l,
	}, fs, logs
}

func newTestChannel(name string, rules ...*channel.Rule) *channel.Channel {
	return channel.New(name, channel.FullAccess, channel.WithFolder("/logs"), channel.WithRules(rules...))
}

func newTestRequest(ch *channel.Channel, msg string) *request.Request {
	r := request.New(&request.Context{}, request.Local, request.Payload{
		Channel:  ch,
		Message:  msg,
		Category: channel.Info,
	})
	r.MarkSubmitted()
	return r
}

func TestNewWriter(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	w, err := New(config.ModeImmediate, deps)
	require.NoError(t, err)
	assert.IsType(t, &Immediate{}, w)

	w, err = New(config.ModeQueued, deps)
	require.NoError(t, err)
	assert.IsType(t, &Queued{}, w)

	_, err = New("sometimes", deps)
	assert.Error(t, err)
}

func TestImmediateDeliver(t *testing.T) {
	deps, fs, _ := newTestDeps(t)
	w := NewImmediate(deps)
	ch := newTestChannel("main", channel.ShowCategoryRule(true))

	r := newTestRequest(ch, "hello")
	w.Deliver(r)

	require.Equal(t, request.Complete, r.Status())
	want := w.Render(ch, channel.Entry{Channel: "main", Category: channel.Info, Message: "hello"}) + "\n"
	assert.Equal(t, "[INFO] hello\n", want)
	assert.Equal(t, want, fs.ReadString("/logs/main.log"))
	assert.True(t, ch.Props.FileExists())

	r2 := newTestRequest(ch, "again")
	w.Deliver(r2)
	require.Equal(t, request.Complete, r2.Status())
	assert.Equal(t, "[INFO] hello\n[INFO] again\n", fs.ReadString("/logs/main.log"))
	assert.Equal(t, int64(2), deps.Stats.Get(internal.StatWrites))
}

func TestImmediateSkipsNonPending(t *testing.T) {
	deps, fs, _ := newTestDeps(t)
	w := NewImmediate(deps)
	r := newTestRequest(newTestChannel("main"), "hello")

	_, ok := r.BeginWrite()
	require.True(t, ok)
	w.Deliver(r)

	assert.Equal(t, request.WritePending, r.Status())
	assert.Equal(t, 0, fs.TotalOpens())
}

func TestImmediateFilterMatch(t *testing.T) {
	deps, fs, _ := newTestDeps(t)
	w := NewImmediate(deps)
	deps.Filter.Add("main", "hello", filter.Session)

	r := newTestRequest(newTestChannel("main"), "hello")
	w.Deliver(r)

	assert.Equal(t, request.Rejected, r.Status())
	assert.Equal(t, request.FilterMatch, r.UnhandledReason())
	assert.Equal(t, 0, fs.TotalOpens())
}

func TestImmediateWriteFailureReportedOnce(t *testing.T) {
	deps, fs, logs := newTestDeps(t)
	fs.FailOn = "boom"
	w := NewImmediate(deps)
	ch := newTestChannel("main")

	for i := 0; i < 3; i++ {
		r := newTestRequest(ch, fmt.Sprintf("boom %d", i))
		w.Deliver(r)
		assert.Equal(t, request.Rejected, r.Status())
		assert.Equal(t, request.FailedToWrite, r.UnhandledReason())
	}
	assert.Equal(t, 1, logs.FilterMessage("failed to write log file").Len())
	assert.Equal(t, uint8(request.FailedToWrite), ch.Props.Record.Code())
}

func TestQueuedDeliverDefersIO(t *testing.T) {
	deps, fs, _ := newTestDeps(t)
	w := NewQueued(deps)
	ch := newTestChannel("main")

	for _, line := range testhelper.SomeLines {
		r := newTestRequest(ch, line)
		w.Deliver(r)
		require.Equal(t, request.Complete, r.Status())
	}

	assert.Equal(t, len(testhelper.SomeLines), w.Len())
	assert.Equal(t, 0, fs.TotalOpens())

	require.NoError(t, w.Flush())
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, strings.Join(testhelper.SomeLines, "\n")+"\n", fs.ReadString("/logs/main.log"))
}

func TestQueuedEnqueueRequiresLease(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	w := NewQueued(deps)
	r := newTestRequest(newTestChannel("main"), "hello")

	l, ok := r.BeginWrite()
	require.True(t, ok)
	assert.False(t, w.enqueue(r, l+1, "hello"))
	assert.Equal(t, 0, w.Len())
	assert.True(t, w.enqueue(r, l, "hello"))
	assert.Equal(t, 1, w.Len())
}

func TestQueuedFlushOneOpenPerRun(t *testing.T) {
	deps, fs, _ := newTestDeps(t)
	w := NewQueued(deps)
	a := newTestChannel("a")
	b := newTestChannel("b")

	for i := 0; i < 5; i++ {
		w.Deliver(newTestRequest(a, fmt.Sprintf("a%d", i)))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, 1, fs.Opens("/logs/a.log"), "a run of one channel should open its file once")

	w.Deliver(newTestRequest(a, "a5"))
	w.Deliver(newTestRequest(b, "b0"))
	w.Deliver(newTestRequest(b, "b1"))
	w.Deliver(newTestRequest(a, "a6"))
	require.NoError(t, w.Flush())

	assert.Equal(t, 3, fs.Opens("/logs/a.log"))
	assert.Equal(t, 1, fs.Opens("/logs/b.log"))
	assert.Equal(t, "a0\na1\na2\na3\na4\na5\na6\n", fs.ReadString("/logs/a.log"))
	assert.Equal(t, "b0\nb1\n", fs.ReadString("/logs/b.log"))
	assert.Equal(t, int64(9), deps.Stats.Get(internal.StatWrites))
}

func TestQueuedFlushError(t *testing.T) {
	deps, fs, logs := newTestDeps(t)
	fs.FailOn = "boom"
	w := NewQueued(deps)
	ch := newTestChannel("main")

	msgs := []string{"one", "two", "boom three", "boom four", "five", "six"}
	for _, msg := range msgs {
		w.Deliver(newTestRequest(ch, msg))
	}

	err := w.Flush()
	require.Error(t, err)
	assert.Equal(t, "one\ntwo\n", fs.ReadString("/logs/main.log"))
	assert.Equal(t, 1, logs.FilterMessage("failed to write log file").Len())
	// boom four, five, six and the error line
	assert.Equal(t, 4, w.Len())

	err = w.Flush()
	require.Error(t, err, "identical failure on the next entry")
	assert.Equal(t, 1, logs.FilterMessage("failed to write log file").Len(), "identical errors are reported once")
	assert.Equal(t, 3, w.Len())

	require.NoError(t, w.Flush())
	assert.Equal(t, 0, w.Len())
	content := fs.ReadString("/logs/main.log")
	assert.True(t, strings.HasPrefix(content, "one\ntwo\nfive\nsix\n"), content)
	assert.Contains(t, content, "[ERROR] failed to write /logs/main.log: disk full\n")
	assert.Equal(t, int64(2), deps.Stats.Get(internal.StatFlushError))
}

func TestQueuedRenderTagsErrors(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	w := NewQueued(deps)

	plain := newTestChannel("plain")
	e := channel.Entry{Channel: "plain", Category: channel.Error, Message: "bad"}
	assert.Equal(t, "[ERROR] bad", w.Render(plain, e))

	tagged := newTestChannel("tagged", channel.ShowCategoryRule(true))
	e.Channel = "tagged"
	assert.Equal(t, "[ERROR] bad", w.Render(tagged, e))

	e.Category = channel.Info
	assert.Equal(t, "bad", w.Render(plain, e))

	e.Category = channel.Fatal
	e.Channel = "plain"
	assert.Equal(t, "bad", w.Render(plain, e), "only errors are tagged")
}

func TestQueuedCloseFlushes(t *testing.T) {
	deps, fs, _ := newTestDeps(t)
	w := NewQueued(deps)
	w.Deliver(newTestRequest(newTestChannel("main"), "hello"))

	require.NoError(t, w.Shutdown())
	assert.Equal(t, "hello\n", fs.ReadString("/logs/main.log"))
}

func TestChannelLocks(t *testing.T) {
	locks := NewChannelLocks()

	var wg sync.WaitGroup
	var mu sync.Mutex
	active, maxActive := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("main")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)

	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	unlockB()
	unlockA()
}

func TestMockWriter(t *testing.T) {
	w := NewMockWriter()
	r := newTestRequest(newTestChannel("main"), "hello")
	w.Deliver(r)
	assert.Equal(t, request.Complete, r.Status())
	assert.Equal(t, []string{"hello"}, w.Lines())

	rw := NewRejectingWriter(request.LogUnavailable)
	r = newTestRequest(newTestChannel("main"), "hello")
	rw.Deliver(r)
	assert.Equal(t, request.LogUnavailable, r.UnhandledReason())
	assert.Equal(t, 1, rw.Calls())
	assert.Empty(t, rw.Lines())
}
