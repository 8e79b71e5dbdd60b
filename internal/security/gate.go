package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestKind distinguishes approval prompts from password prompts.
type RequestKind int

const (
	KindApproval RequestKind = iota
	KindPassword
)

func (k RequestKind) String() string {
	if k == KindPassword {
		return "password"
	}
	return "approval"
}

// State is a request's position in its lifecycle.
type State int

const (
	Idle State = iota
	Awaiting
	Resolved
)

func (s State) String() string {
	switch s {
	case Awaiting:
		return "awaiting"
	case Resolved:
		return "resolved"
	default:
		return "idle"
	}
}

// Request is one question put to the user. It resolves exactly once;
// later answers are ignored.
type Request struct {
	ID        string
	Kind      RequestKind
	Prompt    string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	approved bool
	password string
	done     chan struct{}
}

func newRequest(kind RequestKind, prompt string) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Kind:      kind,
		Prompt:    prompt,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the request resolves.
func (r *Request) Done() <-chan struct{} { return r.done }

// Approve answers an approval request with yes. It reports whether this
// call resolved the request.
func (r *Request) Approve() bool { return r.resolve(true, "") }

// Decline answers either kind of request with no.
func (r *Request) Decline() bool { return r.resolve(false, "") }

// ProvidePassword answers a password request. An approval request treats
// it as a decline.
func (r *Request) ProvidePassword(pw string) bool {
	if r.Kind != KindPassword {
		return r.Decline()
	}
	return r.resolve(true, pw)
}

func (r *Request) present() {
	r.mu.Lock()
	if r.state == Idle {
		r.state = Awaiting
	}
	r.mu.Unlock()
}

func (r *Request) resolve(approved bool, pw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Resolved {
		return false
	}
	r.state = Resolved
	r.approved = approved
	r.password = pw
	close(r.done)
	return true
}

func (r *Request) outcome() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.approved, r.password
}

// Gate hands consent and password requests to the user-facing side over
// a channel and waits for the answer. At most one request of each kind is
// outstanding; a new one auto-declines the stale one.
type Gate struct {
	requests chan *Request
	closed   chan struct{}
	timeout  time.Duration
	audit    *Auditor
	logger   *slog.Logger

	mu        sync.Mutex
	pending   map[RequestKind]*Request
	closeOnce sync.Once
}

type GateConfig struct {
	Timeout time.Duration // 0 waits until ctx is done or the gate closes
	Audit   *Auditor
	Logger  *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		requests: make(chan *Request),
		closed:   make(chan struct{}),
		timeout:  cfg.Timeout,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		pending:  make(map[RequestKind]*Request),
	}
}

// Requests is the outbound port. The consumer must answer every request it
// receives.
func (g *Gate) Requests() <-chan *Request { return g.requests }

// Closed is closed once the gate is torn down.
func (g *Gate) Closed() <-chan struct{} { return g.closed }

// RequestApproval asks the user to approve prompt.
func (g *Gate) RequestApproval(ctx context.Context, prompt string) bool {
	req := g.ask(ctx, KindApproval, prompt)
	ok, _ := req.outcome()
	if ok {
		g.audit.Record(ctx, ActionConsentYes, prompt, "approved", "request "+req.ID)
	} else {
		g.audit.Record(ctx, ActionConsentNo, prompt, "declined", "request "+req.ID)
	}
	return ok
}

// RequestPassword asks for the sudo password. It returns false if the user
// declined or the request was abandoned.
func (g *Gate) RequestPassword(ctx context.Context, description string) (string, bool) {
	req := g.ask(ctx, KindPassword, description)
	ok, pw := req.outcome()
	if ok {
		g.audit.Record(ctx, ActionPasswordGiven, description, "approved", "request "+req.ID)
	} else {
		g.audit.Record(ctx, ActionPasswordRefused, description, "declined", "request "+req.ID)
	}
	return pw, ok
}

func (g *Gate) ask(ctx context.Context, kind RequestKind, prompt string) *Request {
	req := newRequest(kind, prompt)

	g.mu.Lock()
	select {
	case <-g.closed:
		g.mu.Unlock()
		req.Decline()
		return req
	default:
	}
	if stale := g.pending[kind]; stale != nil {
		if stale.Decline() {
			g.logger.Debug("stale request preempted", "kind", kind, "id", stale.ID)
		}
	}
	g.pending[kind] = req
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.pending[kind] == req {
			delete(g.pending, kind)
		}
		g.mu.Unlock()
	}()

	var expired <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case g.requests <- req:
		req.present()
	case <-req.done:
		return req
	case <-ctx.Done():
		req.Decline()
		return req
	case <-g.closed:
		req.Decline()
		return req
	case <-expired:
		g.logger.Info("consent request timed out before delivery", "kind", kind, "id", req.ID)
		req.Decline()
		return req
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		req.Decline()
	case <-g.closed:
		req.Decline()
	case <-expired:
		g.logger.Info("consent request timed out", "kind", kind, "id", req.ID)
		req.Decline()
	}
	return req
}

// Close tears the gate down. Outstanding and future requests resolve as
// declined.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		close(g.closed)
		for kind, req := range g.pending {
			req.Decline()
			delete(g.pending, kind)
		}
		g.mu.Unlock()
	})
}
