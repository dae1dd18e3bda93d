// Package feeder drives one document at a time through extraction, chunk
// planning and paced delivery to an external conversational interface.
//
// The controller submits a chunk, then polls a readiness probe until the
// interface is idle again before submitting the next one. When the
// interface reports a failure while the controller is waiting, the
// undelivered chunks become a new text document that is resubmitted after
// a cooldown. A stop request abandons the session at the next suspension
// point.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docfeed/chunk"
	"github.com/hazyhaar/docfeed/docpipe"
	"github.com/hazyhaar/docfeed/prompt"
	"github.com/hazyhaar/docfeed/settings"
)

// ErrBusy is returned when a document is submitted while another one is
// still being delivered.
var ErrBusy = errors.New("feeder: a delivery is already in progress")

// ErrSink wraps failures of the text-injection sink.
var ErrSink = errors.New("feeder: sink failed")

var errStopped = errors.New("feeder: stopped")

// CurrentCursor asks OnInterrupted to recover from the session cursor.
const CurrentCursor = -1

// Default pacing.
const (
	DefaultPollInterval     = time.Second
	DefaultSubmitDelay      = time.Second
	DefaultRecoveryCooldown = 90 * time.Second
)

// Extractor turns a document into text.
type Extractor interface {
	Extract(ctx context.Context, doc docpipe.Document, filter docpipe.ArchiveFilter) (string, error)
}

// SettingsSource provides the current configuration, runtime overrides
// included. It is read at the start of each session.
type SettingsSource interface {
	Snapshot() settings.Settings
}

// ReadinessProbe reports whether the external interface accepts new input.
type ReadinessProbe func(ctx context.Context) (bool, error)

// Sink delivers composed prompts to the external interface.
type Sink interface {
	Inject(ctx context.Context, text string) error
	Trigger(ctx context.Context) error
}

// Timing holds the pacing durations. Zero values use the defaults.
type Timing struct {
	PollInterval     time.Duration `json:"poll_interval" yaml:"poll_interval"`
	SubmitDelay      time.Duration `json:"submit_delay" yaml:"submit_delay"`
	RecoveryCooldown time.Duration `json:"recovery_cooldown" yaml:"recovery_cooldown"`
}

func (t *Timing) defaults() {
	if t.PollInterval <= 0 {
		t.PollInterval = DefaultPollInterval
	}
	if t.SubmitDelay <= 0 {
		t.SubmitDelay = DefaultSubmitDelay
	}
	if t.RecoveryCooldown <= 0 {
		t.RecoveryCooldown = DefaultRecoveryCooldown
	}
}

// Config wires a Controller to its collaborators.
type Config struct {
	Extractor Extractor
	Settings  SettingsSource
	Probe     ReadinessProbe
	Sink      Sink
	Timing    Timing

	// Observer receives every Event. It is called synchronously.
	Observer func(Event)
	// NewID generates session IDs. Default: NewSessionID.
	NewID  func() string
	Logger *slog.Logger
}

// Controller is the delivery state machine. At most one document is in
// flight at any time.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	interrupts chan int

	mu          sync.Mutex
	active      bool
	state       State
	session     *Session
	stop        chan struct{}
	stopClosed  bool
	currentPart int
	recoveries  int
	lastOutcome State
	lastErr     string
}

// New creates a Controller.
func New(cfg Config) *Controller {
	cfg.Timing.defaults()
	if cfg.NewID == nil {
		cfg.NewID = NewSessionID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:        cfg,
		logger:     cfg.Logger,
		interrupts: make(chan int, 1),
	}
}

// Run delivers doc and blocks until it is completed, stopped or failed.
// Recoveries happen inside Run. A stop is not an error.
func (c *Controller) Run(ctx context.Context, doc docpipe.Document) (Result, error) {
	stop, err := c.begin()
	if err != nil {
		return Result{}, err
	}
	defer c.end()
	return c.run(ctx, doc, stop)
}

// Start delivers doc in the background. It fails with ErrBusy if a
// delivery is in progress.
func (c *Controller) Start(ctx context.Context, doc docpipe.Document) error {
	stop, err := c.begin()
	if err != nil {
		return err
	}
	go func() {
		defer c.end()
		res, err := c.run(ctx, doc, stop)
		if err != nil {
			c.logger.Error("feeder: delivery failed", "document", doc.Name, "error", err)
			return
		}
		c.logger.Info("feeder: delivery finished", "document", doc.Name, "status", res.Status, "delivered", res.Delivered, "recoveries", res.Recoveries)
	}()
	return nil
}

// Stop abandons the active delivery at its next suspension point. It
// reports whether a delivery was active.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	if !c.stopClosed {
		close(c.stop)
		c.stopClosed = true
		c.logger.Info("feeder: stop requested", "state", c.state)
	}
	return true
}

// OnInterrupted reports that the external interface failed. Chunks from
// fromCursor onward are resubmitted as a new document after the cooldown;
// CurrentCursor (or any out-of-range value) means the session cursor. The
// signal is ignored unless the controller is waiting for readiness.
func (c *Controller) OnInterrupted(fromCursor int) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateWaiting {
		c.logger.Debug("feeder: interruption ignored", "state", st)
		return
	}
	select {
	case c.interrupts <- fromCursor:
	default:
	}
}

// Cursor returns the cursor of the active session, or -1.
func (c *Controller) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return -1
	}
	return c.session.Cursor
}

// Progress returns the current progress view.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := Progress{
		State:       c.state,
		CurrentPart: c.currentPart,
		Submitting:  c.active,
		Recoveries:  c.recoveries,
		LastOutcome: c.lastOutcome,
		LastError:   c.lastErr,
	}
	if s := c.session; s != nil {
		p.SessionID = s.ID
		p.Document = s.Document
		p.TotalParts = s.Total()
	}
	return p
}

func (c *Controller) begin() (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil, ErrBusy
	}
	c.active = true
	c.stop = make(chan struct{})
	c.stopClosed = false
	c.currentPart = 0
	c.recoveries = 0
	c.lastErr = ""
	return c.stop, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.active = false
	c.session = nil
	c.state = StateIdle
	c.currentPart = 0
	c.mu.Unlock()
	c.emit(Event{Kind: EventState, State: StateIdle})
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeStopped
	outcomeInterrupted
)

func (c *Controller) run(ctx context.Context, doc docpipe.Document, stop <-chan struct{}) (Result, error) {
	res := Result{Document: doc.Name}
	for generation := 0; ; generation++ {
		out, remainder, delivered, err := c.deliver(ctx, doc, generation, stop)
		res.Delivered += delivered

		if errors.Is(err, errStopped) {
			out, err = outcomeStopped, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				res.Status = StateStopped
				c.finish(StateStopped, "")
				return res, ctx.Err()
			}
			res.Status = StateFailed
			c.finish(StateFailed, err.Error())
			return res, err
		}

		switch out {
		case outcomeCompleted:
			res.Status = StateCompleted
			c.finish(StateCompleted, "")
			return res, nil
		case outcomeStopped:
			res.Status = StateStopped
			c.finish(StateStopped, "")
			return res, nil
		}

		res.Recoveries++
		c.mu.Lock()
		c.recoveries = res.Recoveries
		c.mu.Unlock()
		c.emit(Event{
			Kind:     EventRecovery,
			State:    StateRecovering,
			Document: remainder.Name,
			Detail:   fmt.Sprintf("resubmitting in %s", c.cfg.Timing.RecoveryCooldown),
		})
		c.logger.Warn("feeder: delivery interrupted, recovering",
			"document", doc.Name, "remainder", remainder.Name, "cooldown", c.cfg.Timing.RecoveryCooldown)

		if err := c.pause(ctx, stop, c.cfg.Timing.RecoveryCooldown); err != nil {
			res.Status = StateStopped
			c.finish(StateStopped, "")
			if errors.Is(err, errStopped) {
				return res, nil
			}
			return res, err
		}
		doc = *remainder
	}
}

// deliver runs one session. On interruption it returns the recovery
// document and discards the session.
func (c *Controller) deliver(ctx context.Context, doc docpipe.Document, generation int, stop <-chan struct{}) (outcome, *docpipe.Document, int, error) {
	if stopped(stop) {
		return outcomeStopped, nil, 0, nil
	}

	cfg := settings.Defaults()
	if c.cfg.Settings != nil {
		cfg = c.cfg.Settings.Snapshot()
	}

	sess := &Session{
		ID:         c.cfg.NewID(),
		Document:   doc.Name,
		Format:     doc.Format,
		StartedAt:  time.Now(),
		Generation: generation,
		Templates:  cfg.Templates,
	}
	c.mu.Lock()
	c.session = sess
	c.currentPart = 0
	c.mu.Unlock()

	c.transition(StateExtracting, sess, "")
	text, err := c.cfg.Extractor.Extract(ctx, doc, cfg.Filter())
	if err != nil {
		return 0, nil, 0, err
	}
	if stopped(stop) {
		return outcomeStopped, nil, 0, nil
	}

	c.transition(StatePlanning, sess, "")
	chunks := chunk.Plan(text, cfg.ChunkSize)
	c.mu.Lock()
	sess.Text = text
	sess.Chunks = chunks
	c.mu.Unlock()

	total := len(chunks)
	c.logger.Info("feeder: session planned", "session", sess.ID, "document", doc.Name, "chunks", total, "budget", cfg.ChunkSize)
	if total == 0 {
		return outcomeCompleted, nil, 0, nil
	}

	delivered := 0
	for {
		if err := c.pause(ctx, stop, c.cfg.Timing.SubmitDelay); err != nil {
			return 0, nil, delivered, err
		}

		cursor := sess.Cursor
		c.transition(StateDelivering, sess, "")
		text := prompt.Compose(chunks[cursor], cursor+1, total, doc.Name, sess.Templates)
		if err := c.submit(ctx, text); err != nil {
			return 0, nil, delivered, err
		}
		delivered++
		c.mu.Lock()
		c.currentPart = cursor + 1
		c.mu.Unlock()
		c.emit(Event{Kind: EventSubmit, State: StateDelivering, SessionID: sess.ID, Document: sess.Document, Part: cursor + 1, Total: total})

		c.drainInterrupts()
		c.transition(StateWaiting, sess, "")
		from, err := c.awaitReady(ctx, stop)
		if err != nil {
			return 0, nil, delivered, err
		}
		if from != nil {
			start := *from
			if start < 0 || start > cursor {
				start = cursor
			}
			rem := RemainderDocument(doc.Name, chunks, start)
			c.emit(Event{Kind: EventInterrupted, State: StateWaiting, SessionID: sess.ID, Document: sess.Document, Part: start + 1, Total: total})
			c.transition(StateRecovering, sess, rem.Name)
			c.mu.Lock()
			c.session = nil
			c.mu.Unlock()
			return outcomeInterrupted, &rem, delivered, nil
		}

		c.mu.Lock()
		sess.Cursor++
		c.mu.Unlock()
		c.emit(Event{Kind: EventReady, State: StateWaiting, SessionID: sess.ID, Document: sess.Document, Part: cursor + 1, Total: total})
		if sess.Cursor == total {
			return outcomeCompleted, nil, delivered, nil
		}
	}
}

func (c *Controller) submit(ctx context.Context, text string) error {
	if err := c.cfg.Sink.Inject(ctx, text); err != nil {
		return fmt.Errorf("%w: inject: %w", ErrSink, err)
	}
	if err := c.cfg.Sink.Trigger(ctx); err != nil {
		return fmt.Errorf("%w: trigger: %w", ErrSink, err)
	}
	return nil
}

// awaitReady polls the probe until it reports ready. A non-nil cursor
// means an interruption arrived first.
func (c *Controller) awaitReady(ctx context.Context, stop <-chan struct{}) (*int, error) {
	ticker := time.NewTicker(c.cfg.Timing.PollInterval)
	defer ticker.Stop()
	for {
		if stopped(stop) {
			return nil, errStopped
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-stop:
			return nil, errStopped
		case from := <-c.interrupts:
			return &from, nil
		case <-ticker.C:
			ready, err := c.cfg.Probe(ctx)
			if err != nil {
				c.logger.Warn("feeder: readiness probe failed", "error", err)
				continue
			}
			if ready {
				return nil, nil
			}
		}
	}
}

// pause sleeps for d unless stopped or cancelled first.
func (c *Controller) pause(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	if stopped(stop) {
		return errStopped
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return errStopped
	case <-t.C:
		return nil
	}
}

func (c *Controller) drainInterrupts() {
	for {
		select {
		case <-c.interrupts:
		default:
			return
		}
	}
}

func (c *Controller) transition(st State, sess *Session, detail string) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	ev := Event{Kind: EventState, State: st, Detail: detail}
	if sess != nil {
		ev.SessionID = sess.ID
		ev.Document = sess.Document
		ev.Part = sess.Cursor + 1
		ev.Total = sess.Total()
	}
	c.logger.Debug("feeder: state", "state", st, "session", ev.SessionID, "part", ev.Part, "total", ev.Total)
	c.emit(ev)
}

func (c *Controller) finish(st State, errMsg string) {
	c.mu.Lock()
	c.state = st
	c.lastOutcome = st
	c.lastErr = errMsg
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	ev := Event{Kind: EventState, State: st}
	if errMsg != "" {
		ev.Kind = EventError
		ev.Detail = errMsg
	}
	if sess != nil {
		ev.SessionID = sess.ID
		ev.Document = sess.Document
	}
	c.emit(ev)
}

func (c *Controller) emit(ev Event) {
	if c.cfg.Observer == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.cfg.Observer(ev)
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
