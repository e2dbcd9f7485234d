package dispatch

import (
	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/filter"
	"github.com/jeffrom/logroute/internal"
	"github.com/jeffrom/logroute/request"
)

// Classify returns the request type a log call to ch produces.
func Classify(ch *channel.Channel) request.Type {
	switch {
	case ch.GameControlled:
		return request.Game
	case ch.Access == channel.FullAccess || ch.Access == channel.Private:
		return request.Local
	default:
		return request.Remote
	}
}

// Send logs message to ch and returns the request it produced, or nil when
// the dispatcher or channel is disabled. Local requests are delivered before
// Send returns; others are tracked and delivered when the router next
// processes requests.
func (d *Dispatcher) Send(ch *channel.Channel, category channel.Category, message string, shouldFilter bool) *request.Request {
	return d.send(ch, request.Payload{
		Message:      message,
		Category:     category,
		ShouldFilter: shouldFilter,
		FilterScope:  filter.Session,
	})
}

func (d *Dispatcher) send(ch *channel.Channel, p request.Payload) *request.Request {
	if ch == nil || !d.AllowLogging() || !ch.Enabled() {
		return nil
	}

	typ := Classify(ch)
	p.Channel = ch
	if typ == request.Remote {
		p.Channel = ch.Clone()
	}
	r := request.New(d.env.RequestContext(), typ, p)

	deps := d.env.WriterDeps()
	if p.Err != nil && !deps.Reported.Report(ch.Name, internal.ErrorSignature(p.Err)) {
		r.Reject(request.ExceptionAlreadyReported)
		return r
	}

	lock := d.env.ProcessLock()
	lock.Lock()
	defer lock.Unlock()

	rt := d.env.Router()
	if typ != request.Local {
		rt.Submit(r, true)
		return r
	}

	if r.WaitingOnOthers() && !rt.ProcessChannel(ch.Name) {
		rt.Submit(r, true)
		r.Reject(request.WaitingOnOtherRequests)
		deps.Stats.Incr(internal.StatRejected)
		return r
	}

	rt.Submit(r, true)
	if d.HandleRequest(r, true) == request.None {
		deps.Stats.Incr(internal.StatCompleted)
	} else {
		deps.Stats.Incr(internal.StatRejected)
	}
	rt.Release(r)
	return r
}

// Log logs message to ch.
func (d *Dispatcher) Log(ch *channel.Channel, category channel.Category, message string) {
	d.Send(ch, category, message, false)
}

// LogAll logs message to every bound channel.
func (d *Dispatcher) LogAll(category channel.Category, message string) {
	d.logAll(request.Payload{Category: category, Message: message})
}

// LogOnce logs message to every bound channel unless it was already written
// there this session.
func (d *Dispatcher) LogOnce(category channel.Category, message string) {
	d.logAll(request.Payload{
		Category:     category,
		Message:      message,
		ShouldFilter: true,
		FilterScope:  filter.Session,
	})
}

// LogErr logs err to every bound channel. An error is only written once per
// channel and root cause.
func (d *Dispatcher) LogErr(err error) {
	if err == nil {
		return
	}
	d.logAll(request.Payload{Category: channel.Error, Message: err.Error(), Err: err})
}

// LogErrTo logs err to ch, once per root cause.
func (d *Dispatcher) LogErrTo(ch *channel.Channel, err error) *request.Request {
	if err == nil {
		return nil
	}
	return d.send(ch, request.Payload{Category: channel.Error, Message: err.Error(), Err: err})
}

func (d *Dispatcher) logAll(p request.Payload) {
	chs := d.Channels()
	if len(chs) == 0 {
		d.log.Warn("attempted to log message with no available channels")
		return
	}
	for _, ch := range chs {
		d.send(ch, p)
	}
}

func (d *Dispatcher) LogDefault(message string)   { d.LogAll(channel.Default, message) }
func (d *Dispatcher) LogDebug(message string)     { d.LogAll(channel.Debug, message) }
func (d *Dispatcher) LogInfo(message string)      { d.LogAll(channel.Info, message) }
func (d *Dispatcher) LogImportant(message string) { d.LogAll(channel.Important, message) }
func (d *Dispatcher) LogMessage(message string)   { d.LogAll(channel.Message, message) }
func (d *Dispatcher) LogWarning(message string)   { d.LogAll(channel.Warning, message) }
func (d *Dispatcher) LogError(message string)     { d.LogAll(channel.Error, message) }
func (d *Dispatcher) LogFatal(message string)     { d.LogAll(channel.Fatal, message) }
