// Package poller drives a modem adapter through authenticate, fetch, parse
// and deliver cycles and applies the configured failure policy.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/log"

	"github.com/sarabveer/cable-modem-stats/internal/metrics"
	"github.com/sarabveer/cable-modem-stats/internal/modem"
	"github.com/sarabveer/cable-modem-stats/internal/sink"
	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

type State int

const (
	NeedCredential State = iota
	Authenticating
	Ready
	Fetching
	Parsing
	Delivering
	Sleeping
	FatalExit
)

func (s State) String() string {
	switch s {
	case NeedCredential:
		return "NeedCredential"
	case Authenticating:
		return "Authenticating"
	case Ready:
		return "Ready"
	case Fetching:
		return "Fetching"
	case Parsing:
		return "Parsing"
	case Delivering:
		return "Delivering"
	case Sleeping:
		return "Sleeping"
	case FatalExit:
		return "FatalExit"
	}
	return "Unknown"
}

type Options struct {
	SleepInterval             time.Duration
	ExitOnAuthError           bool
	ExitOnHTMLError           bool
	ClearAuthTokenOnHTMLError bool
	SleepBeforeExit           bool
}

type Option func(*Poller)

// WithSleep replaces time.Sleep for the poll interval and retry waits.
func WithSleep(sleep func(time.Duration)) Option {
	return func(p *Poller) { p.sleep = sleep }
}

// WithClock replaces time.Now for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// Poller owns the credential and the current batch. It is not safe for
// concurrent use; run one Poller per modem.
type Poller struct {
	adapter modem.Adapter
	sink    sink.Sink
	opts    Options

	sleep   func(time.Duration)
	now     func() time.Time
	metrics *metrics.Metrics

	state State
	cred  modem.Credential
	raw   modem.Payload
	batch stats.Batch
}

func New(adapter modem.Adapter, s sink.Sink, opts Options, options ...Option) *Poller {
	p := &Poller{
		adapter: adapter,
		sink:    s,
		opts:    opts,
		sleep:   time.Sleep,
		now:     time.Now,
		state:   NeedCredential,
	}
	for _, o := range options {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New(prometheus.NewRegistry())
	}
	return p
}

func (p *Poller) State() State { return p.state }

// Run steps the state machine until a fatal condition and returns the
// process exit code. It also returns once ctx is done.
func (p *Poller) Run(ctx context.Context) int {
	for p.state != FatalExit {
		if ctx.Err() != nil {
			log.Errorln("Stopping:", ctx.Err())
			return 1
		}
		p.Step(ctx)
	}

	if p.opts.SleepBeforeExit {
		log.Infof("Sleeping for %s before exiting since sleep_before_exit is True", p.opts.SleepInterval)
		p.sleep(p.opts.SleepInterval)
	}
	return 1
}

// Step performs one transition and returns the new state.
func (p *Poller) Step(ctx context.Context) State {
	switch p.state {
	case NeedCredential:
		p.metrics.PollCycles.Inc()
		switch {
		case !p.adapter.AuthRequired():
			p.cred = modem.NoCredential{}
			p.state = Ready
		case p.cred != nil:
			p.state = Ready
		default:
			p.state = Authenticating
		}

	case Authenticating:
		p.authenticate(ctx)

	case Ready:
		p.state = Fetching

	case Fetching:
		p.fetch(ctx)

	case Parsing:
		p.parse()

	case Delivering:
		p.deliver(ctx)

	case Sleeping:
		log.Infof("Sleeping for %s", p.opts.SleepInterval)
		p.sleep(p.opts.SleepInterval)
		p.state = NeedCredential

	case FatalExit:
	}
	return p.state
}

func (p *Poller) authenticate(ctx context.Context) {
	cred, err := p.adapter.Authenticate(ctx)
	if err == nil {
		p.cred = cred
		p.state = Ready
		return
	}

	p.metrics.AuthFailures.Inc()
	log.Errorln(err)
	if p.opts.ExitOnAuthError {
		log.Errorln("Unable to authenticate with modem. Exiting since exit_on_auth_error is True.")
		p.state = FatalExit
		return
	}
	// The retry wait replaces the poll interval, the next cycle starts as
	// soon as a login succeeds.
	log.Infof("Unable to obtain valid login session, sleeping for: %s", p.opts.SleepInterval)
	p.sleep(p.opts.SleepInterval)
}

func (p *Poller) fetch(ctx context.Context) {
	raw, err := p.adapter.FetchRaw(ctx, p.cred)
	if err == nil {
		p.raw = raw
		p.state = Parsing
		return
	}

	reason := "unknown"
	var fetchErr *modem.FetchError
	if errors.As(err, &fetchErr) {
		reason = fetchErr.Reason.String()
	}
	p.metrics.FetchFailures.WithLabelValues(reason).Inc()
	log.Errorln(err)

	if p.opts.ExitOnHTMLError {
		log.Errorln("No data obtained from modem. Exiting since exit_on_html_error is True.")
		p.state = FatalExit
		return
	}
	log.Errorln("No data to parse, giving up until next interval.")
	if p.opts.ClearAuthTokenOnHTMLError {
		log.Infoln("clear_auth_token_on_html_error is true, clearing credential token.")
		p.cred = nil
	}
	p.state = Sleeping
}

func (p *Poller) parse() {
	batch, err := p.adapter.Parse(p.raw)
	p.raw = nil
	if err != nil {
		log.Errorln(err)
	}
	if err != nil || batch.Empty() {
		p.metrics.ParseFailures.Inc()
		log.Errorln("Failed to get any stats, giving up until next interval")
		p.state = Sleeping
		return
	}

	if len(batch.Downstream) == 0 {
		log.Warnln("No downstream channels in modem data")
	}
	if len(batch.Upstream) == 0 {
		log.Warnln("No upstream channels in modem data")
	}
	log.Debugf("downstream stats: %+v", batch.Downstream)
	log.Debugf("upstream stats: %+v", batch.Upstream)
	p.batch = batch
	p.state = Delivering
}

func (p *Poller) deliver(ctx context.Context) {
	ts := p.now()
	if err := p.sink.Write(ctx, p.batch, ts); err != nil {
		p.metrics.SinkFailures.Inc()
		log.Errorln(err)
	} else {
		p.metrics.LastSuccess.Set(float64(ts.Unix()))
	}
	p.batch = stats.Batch{}
	p.state = Sleeping
}
