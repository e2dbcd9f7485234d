package request

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/filter"
)

type fakeTracker struct {
	submits  int
	onSubmit func(r *Request)
}

func (t *fakeTracker) Submit(r *Request, trackOnly bool) {
	t.submits++
	r.MarkSubmitted()
	if !trackOnly && t.onSubmit != nil {
		t.onSubmit(r)
	}
}

func newTestRequest(t *testing.T, ctx *Context) (*Request, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	if ctx == nil {
		ctx = &Context{}
	}
	ctx.Log = zap.New(core)
	r := New(ctx, Local, Payload{
		Channel:  channel.New("main", channel.FullAccess),
		Message:  "hello",
		Category: channel.Info,
	})
	return r, logs
}

func TestRequestHappyPath(t *testing.T) {
	r, _ := newTestRequest(t, nil)
	require.Equal(t, Pending, r.Status())

	l, ok := r.BeginWrite()
	require.True(t, ok)
	assert.Equal(t, WritePending, r.Status())
	assert.True(t, r.Holds(l))
	assert.False(t, r.Holds(l+1))
	assert.False(t, r.Holds(0))

	_, ok = r.BeginWrite()
	assert.False(t, ok, "only one writer may hold the lease")

	require.True(t, r.Complete())
	assert.Equal(t, Complete, r.Status())
	assert.False(t, r.Holds(l), "lease is cleared on completion")
	assert.True(t, r.Complete(), "completing twice is a no-op")
	assert.True(t, r.Done())
}

func TestRequestCompleteIsAbsorbing(t *testing.T) {
	r, logs := newTestRequest(t, nil)
	_, ok := r.BeginWrite()
	require.True(t, ok)
	require.True(t, r.Complete())

	r.Reject(FailedToWrite)
	assert.Equal(t, Complete, r.Status())
	assert.Equal(t, None, r.UnhandledReason())
	assert.Equal(t, 1, logs.FilterMessage("can't reject completed request").Len())

	assert.False(t, r.ResetStatus())
	_, ok = r.BeginWrite()
	assert.False(t, ok)
	assert.Equal(t, Complete, r.Status())
	assert.False(t, r.Channel().Props.Record.Rejected())
}

func TestRequestCompleteRequiresWritePending(t *testing.T) {
	r, logs := newTestRequest(t, nil)
	assert.False(t, r.Complete())
	assert.Equal(t, Pending, r.Status())

	r.Reject(LogUnavailable)
	assert.False(t, r.Complete())
	assert.Equal(t, Rejected, r.Status())
	assert.Equal(t, 2, logs.FilterMessage("can't complete request").Len())
}

func TestRequestResetStatus(t *testing.T) {
	r, _ := newTestRequest(t, nil)
	r.Reject(LogUnavailable)
	require.Equal(t, Rejected, r.Status())

	require.True(t, r.ResetStatus())
	assert.Equal(t, Pending, r.Status())
	assert.Equal(t, None, r.UnhandledReason())

	_, ok := r.BeginWrite()
	require.True(t, ok)
	assert.False(t, r.ResetStatus(), "can't reset a write in progress")
	assert.Equal(t, WritePending, r.Status())

	r.Reject(FailedToWrite)
	assert.Equal(t, Rejected, r.Status(), "WritePending may be rejected")
}

func TestCanRetry(t *testing.T) {
	for reason := None; reason <= ShowLogsNotInitialized; reason++ {
		want := reason == None || reason.Rank() > 5
		assert.Equal(t, want, CanRetry(reason), reason.String())
	}
	assert.False(t, CanRetry(AccessDenied))
	assert.False(t, CanRetry(FilterMatch))
	assert.True(t, CanRetry(PathMismatch))
	assert.True(t, CanRetry(ShowLogsNotInitialized))
}

func TestRejectPathMismatchPrecedence(t *testing.T) {
	r, _ := newTestRequest(t, nil)

	r.Reject(PathMismatch)
	assert.Equal(t, PathMismatch, r.UnhandledReason(), "PathMismatch is recorded when nothing else is")

	r.Reject(LogUnavailable)
	assert.Equal(t, LogUnavailable, r.UnhandledReason())

	r.Reject(PathMismatch)
	assert.Equal(t, LogUnavailable, r.UnhandledReason(), "PathMismatch never overwrites")

	r.Reject(AccessDenied)
	assert.Equal(t, AccessDenied, r.UnhandledReason(), "other reasons always overwrite")
	assert.False(t, r.CanRetry())
	assert.True(t, r.Done())
}

func TestRejectPersistsToRecord(t *testing.T) {
	tests := []struct {
		reason  Reason
		persist bool
	}{
		{None, false},
		{ExceptionAlreadyReported, false},
		{FilterMatch, false},
		{AccessDenied, true},
		{LogUnavailable, true},
		{PathMismatch, true},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			r, _ := newTestRequest(t, nil)
			r.Reject(tt.reason)
			rec := r.Channel().Props.Record
			assert.Equal(t, tt.persist, rec.Rejected())
			if tt.persist {
				assert.Equal(t, uint8(tt.reason), rec.Code())
			}
		})
	}
}

func TestBeginWriteSubmitsFirst(t *testing.T) {
	tr := &fakeTracker{}
	r, _ := newTestRequest(t, &Context{Tracker: tr})

	_, ok := r.BeginWrite()
	require.True(t, ok)
	assert.Equal(t, 1, tr.submits)
	assert.True(t, r.Submitted())
}

func TestBeginWriteAbortsWhenResolvedDuringSubmit(t *testing.T) {
	tr := &fakeTracker{}
	tr.onSubmit = func(r *Request) {
		l, ok := r.BeginWrite()
		if ok && r.Holds(l) {
			r.Complete()
		}
	}
	r, _ := newTestRequest(t, &Context{Tracker: tr})

	_, ok := r.BeginWrite()
	assert.False(t, ok)
	assert.Equal(t, Complete, r.Status(), "nested delivery must not be overwritten")
}

func TestBeginWriteAbortsWhenRejectedDuringSubmit(t *testing.T) {
	tr := &fakeTracker{onSubmit: func(r *Request) { r.Reject(LogUnavailable) }}
	r, _ := newTestRequest(t, &Context{Tracker: tr})

	_, ok := r.BeginWrite()
	assert.False(t, ok)
	assert.Equal(t, Rejected, r.Status())
	assert.Equal(t, LogUnavailable, r.UnhandledReason())
}

func TestBeginWriteSingleWinner(t *testing.T) {
	r, _ := newTestRequest(t, nil)
	r.MarkSubmitted()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var leases []Lease
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l, ok := r.BeginWrite(); ok {
				mu.Lock()
				leases = append(leases, l)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, leases, 1)
	assert.True(t, r.Holds(leases[0]))
}

func TestCompleteRegistersFilter(t *testing.T) {
	f := filter.New()
	r, _ := newTestRequest(t, &Context{Filter: f})
	r.Payload.ShouldFilter = true
	r.Payload.FilterScope = filter.Session

	_, ok := r.BeginWrite()
	require.True(t, ok)
	require.True(t, r.Complete())
	assert.True(t, f.Match("main", "hello"))
}

func TestWaitingOnOthers(t *testing.T) {
	r, _ := newTestRequest(t, nil)
	assert.False(t, r.WaitingOnOthers())

	r.Channel().Props.Record.SetCode(uint8(LogUnavailable))
	assert.True(t, r.WaitingOnOthers(), "retryable record blocks pending requests")

	r.Channel().Props.Record.SetCode(uint8(AccessDenied))
	assert.False(t, r.WaitingOnOthers(), "permanent record doesn't block")

	r.Channel().Props.Record.Reset()
	r.Reject(WaitingOnOtherRequests)
	assert.True(t, r.WaitingOnOthers())
}

func TestRequestString(t *testing.T) {
	r, _ := newTestRequest(t, nil)
	assert.Equal(t, "[Log Request][main] hello", r.String())
	assert.Equal(t, channel.Entry{Channel: "main", Category: channel.Info, Message: "hello"}, r.Entry())
}

func TestRejectLogsTruncatedMessage(t *testing.T) {
	r, logs := newTestRequest(t, nil)
	r.Payload.Message = strings.Repeat("x", 200) + "yz"

	r.Reject(AccessDenied)
	entries := logs.FilterMessage("request rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	msg, ok := entries[0].ContextMap()["message"].(string)
	require.True(t, ok)
	assert.Len(t, msg, 100)
	assert.True(t, strings.HasSuffix(msg, "...yz"), msg)
}
