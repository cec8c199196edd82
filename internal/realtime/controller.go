package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/events"
	"github.com/conceptviz/narration-gateway/internal/metrics"
)

// Options bound the retry loop and SDP negotiation.
type Options struct {
	MaxRetries       int
	RetryBackoff     time.Duration
	ICEGatherTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.ICEGatherTimeout <= 0 {
		o.ICEGatherTimeout = 5 * time.Second
	}
	return o
}

// Callbacks receive the controller's outputs. All callbacks may be invoked
// from internal goroutines; nil callbacks are skipped.
type Callbacks struct {
	// OnEvent receives normalized provider events (text deltas, completion,
	// provider errors).
	OnEvent func(events.Envelope)
	// OnState observes every lifecycle transition.
	OnState func(State)
	// OnTerminal fires at most once, when retries are exhausted.
	OnTerminal func(error)
}

// Controller runs one live voice session: microphone acquisition, token
// mint, SDP negotiation, and the data-channel conversation, with bounded
// reconnection on failure. A failed microphone degrades the session to
// listen-only rather than aborting it.
type Controller struct {
	opts      Options
	tokens    TokenSource
	negotiate Negotiator
	peers     PeerFactory
	mic       Microphone
	logger    *zap.Logger
	cb        Callbacks

	mu         sync.Mutex
	state      State
	retryCount int
	isStopping bool
	started    bool
	cancel     context.CancelFunc
	peer       Peer
	dc         DataChannel
	micStream  MicStream
	retryTimer *time.Timer

	terminalOnce sync.Once
	finishOnce   sync.Once
	done         chan struct{}
}

// NewController wires a controller. mic may be nil for listen-only sessions.
func NewController(tokens TokenSource, negotiate Negotiator, peers PeerFactory,
	mic Microphone, opts Options, cb Callbacks, logger *zap.Logger) *Controller {

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		opts:      opts.withDefaults(),
		tokens:    tokens,
		negotiate: negotiate,
		peers:     peers,
		mic:       mic,
		logger:    logger,
		cb:        cb,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the controller has fully torn down, whether by Stop
// or by exhausting retries.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start begins the session for the given topic and doubt. It returns once
// the connection loop is running; progress is reported through callbacks.
// A controller runs at most one session; Start after Stop is an error.
func (c *Controller) Start(ctx context.Context, topic, doubt string, graph *diagram.Graph) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	if c.isStopping {
		c.mu.Unlock()
		return fmt.Errorf("session is stopping")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	metrics.ActiveLiveSessions.Inc()
	go c.run(runCtx, topic, doubt, graph)
	return nil
}

func (c *Controller) run(ctx context.Context, topic, doubt string, graph *diagram.Graph) {
	prompt := BuildContextPrompt(topic, doubt, graph)

	// Microphone is acquired once, outside the retry loop; reconnects reuse
	// the same capture stream.
	c.setState(StateAcquiringMicrophone)
	if c.mic != nil {
		stream, err := c.mic.Open(ctx)
		if err != nil {
			c.logger.Warn("microphone unavailable, continuing listen-only", zap.Error(err))
		} else {
			c.mu.Lock()
			if c.isStopping {
				c.mu.Unlock()
				stream.Close()
				return
			}
			c.micStream = stream
			c.mu.Unlock()
		}
	}

	for {
		if c.stopping(ctx) {
			return
		}

		failed := make(chan error, 1)
		err := c.attempt(ctx, prompt, failed)
		if err == nil {
			// Connected. Block until the connection degrades or the
			// session is stopped.
			select {
			case err = <-failed:
			case <-ctx.Done():
				return
			}
		}
		if c.stopping(ctx) {
			return
		}

		c.teardownPeer()

		c.mu.Lock()
		c.retryCount++
		retries := c.retryCount
		c.mu.Unlock()

		c.logger.Warn("live session attempt failed",
			zap.Int("attempt", retries),
			zap.Int("maxRetries", c.opts.MaxRetries),
			zap.Error(err),
		)

		if retries >= c.opts.MaxRetries {
			c.fail(fmt.Errorf("connection failed after %d attempts: %w", retries, err))
			return
		}

		metrics.LiveRetriesTotal.Inc()
		c.setState(StateRetrying)
		if !c.backoff(ctx) {
			return
		}
	}
}

// attempt runs one full connection: token, peer, data channel, SDP
// exchange. failed receives at most one error if the established connection
// later degrades.
func (c *Controller) attempt(ctx context.Context, prompt string, failed chan<- error) error {
	c.setState(StateConnecting)

	token, err := c.tokens.Mint(ctx)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	if c.stopping(ctx) {
		return ctx.Err()
	}

	peer, err := c.peers.NewPeer()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.isStopping {
		c.mu.Unlock()
		peer.Close()
		return context.Canceled
	}
	c.peer = peer
	mic := c.micStream
	c.mu.Unlock()

	if mic != nil {
		if err := peer.AddAudioSource(mic); err != nil {
			c.logger.Warn("add audio source failed, continuing listen-only", zap.Error(err))
		}
	}

	// The channel must exist before the offer so it is negotiated in the SDP.
	dc, err := peer.CreateDataChannel("oai-events")
	if err != nil {
		return err
	}

	dc.OnOpen(func() {
		c.logger.Info("data channel open")
		msgs, err := ContextMessages(prompt)
		if err != nil {
			c.logger.Error("build context messages", zap.Error(err))
			return
		}
		for _, msg := range msgs {
			if err := dc.Send(msg); err != nil {
				c.logger.Warn("send context message", zap.Error(err))
				return
			}
		}
	})
	dc.OnMessage(func(data []byte) {
		env, ok := Normalize(data)
		if !ok {
			return
		}
		if c.stopping(ctx) {
			return
		}
		if c.cb.OnEvent != nil {
			c.cb.OnEvent(env)
		}
	})

	peer.OnConnectionStateChange(func(state ConnState) {
		switch state {
		case ConnConnected:
			c.mu.Lock()
			stopping := c.isStopping
			if !stopping {
				c.state = StateConnected
				c.retryCount = 0
			}
			c.mu.Unlock()
			if !stopping {
				c.notifyState(StateConnected)
			}
		case ConnFailed, ConnDisconnected:
			select {
			case failed <- fmt.Errorf("peer connection %s", state):
			default:
			}
		}
	})

	offer, err := peer.Offer(ctx, c.opts.ICEGatherTimeout)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if c.stopping(ctx) {
		return ctx.Err()
	}

	answer, err := c.negotiate.Exchange(ctx, offer, token)
	if err != nil {
		return fmt.Errorf("sdp exchange: %w", err)
	}
	if c.stopping(ctx) {
		return ctx.Err()
	}

	if err := peer.SetAnswer(answer); err != nil {
		return fmt.Errorf("set answer: %w", err)
	}

	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()
	return nil
}

// backoff waits the retry delay. Returns false if the session was stopped
// or cancelled while waiting.
func (c *Controller) backoff(ctx context.Context) bool {
	timer := time.NewTimer(c.opts.RetryBackoff)
	c.mu.Lock()
	c.retryTimer = timer
	c.mu.Unlock()

	defer func() {
		timer.Stop()
		c.mu.Lock()
		c.retryTimer = nil
		c.mu.Unlock()
	}()

	select {
	case <-timer.C:
		return !c.stopping(ctx)
	case <-ctx.Done():
		return false
	}
}

// Stop tears the session down in order: signal, timers, data channel,
// microphone, peer. It is safe to call more than once; later calls return
// after the first teardown completes.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.isStopping {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.isStopping = true
	wasFailed := c.state == StateFailed
	if !wasFailed {
		c.state = StateStopping
	}
	cancel := c.cancel
	timer := c.retryTimer
	dc := c.dc
	mic := c.micStream
	peer := c.peer
	c.dc = nil
	c.micStream = nil
	c.peer = nil
	c.mu.Unlock()

	if !wasFailed {
		c.notifyState(StateStopping)
	}

	if cancel != nil {
		cancel()
	}
	if timer != nil {
		timer.Stop()
	}
	if dc != nil {
		dc.Close()
	}
	if mic != nil {
		mic.Close()
	}
	if peer != nil {
		peer.Close()
	}

	if !wasFailed {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.notifyState(StateIdle)
	}

	c.finish()
	c.logger.Info("live session stopped")
}

// finish releases the session slot and signals Done exactly once, whether
// the session ended by Stop or by terminal failure.
func (c *Controller) finish() {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			metrics.ActiveLiveSessions.Dec()
		}
		close(c.done)
	})
}

// fail records terminal failure. The terminal callback fires exactly once
// regardless of how many attempts or goroutines report errors.
func (c *Controller) fail(err error) {
	c.terminalOnce.Do(func() {
		c.mu.Lock()
		alreadyStopping := c.isStopping
		if !alreadyStopping {
			c.state = StateFailed
		}
		c.mu.Unlock()
		if alreadyStopping {
			return
		}

		metrics.LiveFailuresTotal.Inc()
		c.notifyState(StateFailed)
		c.logger.Error("live session failed", zap.Error(err))
		if c.cb.OnTerminal != nil {
			c.cb.OnTerminal(err)
		}

		c.teardownPeer()
		c.mu.Lock()
		mic := c.micStream
		c.micStream = nil
		cancel := c.cancel
		c.mu.Unlock()
		if mic != nil {
			mic.Close()
		}
		if cancel != nil {
			cancel()
		}
		c.finish()
	})
}

func (c *Controller) teardownPeer() {
	c.mu.Lock()
	dc := c.dc
	peer := c.peer
	c.dc = nil
	c.peer = nil
	c.mu.Unlock()

	if dc != nil {
		dc.Close()
	}
	if peer != nil {
		peer.Close()
	}
}

// stopping reports whether the session is shutting down; every continuation
// point in the connect path checks it before proceeding.
func (c *Controller) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStopping
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.isStopping {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Controller) notifyState(s State) {
	if c.cb.OnState != nil {
		c.cb.OnState(s)
	}
}
