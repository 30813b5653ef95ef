// Package session runs the capture session: it feeds audio through the
// segmenter, hands finished utterances to recognition and publishes state
// changes and transcripts to observers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/livecap/internal/audio"
	"github.com/rbright/livecap/internal/fsm"
	"github.com/rbright/livecap/internal/protocol"
	"github.com/rbright/livecap/internal/recognizer"
	"github.com/rbright/livecap/internal/segment"
)

var (
	// ErrAlreadyActive is returned by Start while a capture is running.
	ErrAlreadyActive = errors.New("capture already active")
	// ErrNotActive is returned by Stop when no capture is running.
	ErrNotActive = errors.New("capture not active")
	// ErrControllerStopped is returned once Run has exited.
	ErrControllerStopped = errors.New("session controller is not running")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("session controller already running")
)

// Status messages that are not tied to one state.
const (
	MessageNoSpeech = "No speech recognized"
)

// Publisher is the observer fan-out.
type Publisher interface {
	Broadcast(msg any) int
	Count() int
}

// Recognizer turns an utterance into text.
type Recognizer interface {
	Recognize(ctx context.Context, utterance segment.Utterance) recognizer.Result
}

// Metrics receives pipeline observations.
type Metrics interface {
	ObserveChunk(energy float64)
	ObserveUtterance(duration time.Duration)
	ObserveDiscard()
	ObserveTransition(from, to string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveChunk(float64)             {}
func (noopMetrics) ObserveUtterance(time.Duration)   {}
func (noopMetrics) ObserveDiscard()                  {}
func (noopMetrics) ObserveTransition(string, string) {}

type noopPublisher struct{}

func (noopPublisher) Broadcast(any) int { return 0 }
func (noopPublisher) Count() int        { return 0 }

// Options wires a Controller.
type Options struct {
	Source     audio.Source
	Segmenter  segment.Config
	Recognizer Recognizer
	Publisher  Publisher
	Logger     *slog.Logger
	Metrics    Metrics

	// OnUtterance sees every finalized utterance before recognition.
	OnUtterance func(segment.Utterance)
	Now         func() time.Time
}

// Status is a point-in-time view of the session.
type Status struct {
	State       fsm.State
	Clients     int
	Operational bool
	LastError   string
}

type commandKind int

const (
	commandStart commandKind = iota + 1
	commandStop
)

type command struct {
	kind  commandKind
	reply chan error
}

type recognitionResult struct {
	generation uint64
	final      bool
	result     recognizer.Result
}

// Controller owns the single capture session. All transitions happen on the
// goroutine running Run; State and Status may be read from anywhere.
type Controller struct {
	logger      *slog.Logger
	source      audio.Source
	segmenter   *segment.Segmenter
	recognizer  Recognizer
	publisher   Publisher
	metrics     Metrics
	onUtterance func(segment.Utterance)
	now         func() time.Time

	mu        sync.RWMutex
	state     fsm.State
	lastError string

	commands chan command
	results  chan recognitionResult
	done     chan struct{}
	running  atomic.Bool
	jobs     sync.WaitGroup

	// owned by the Run goroutine
	runCtx     context.Context
	stream     audio.Stream
	chunks     <-chan []byte
	generation uint64
	inflight   bool
	cancelJob  context.CancelFunc
	queue      []segment.Utterance
}

// NewController constructs an idle controller.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		logger:      opts.Logger,
		source:      opts.Source,
		segmenter:   segment.New(opts.Segmenter),
		recognizer:  opts.Recognizer,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		onUtterance: opts.OnUtterance,
		now:         opts.Now,
		state:       fsm.StateIdle,
		commands:    make(chan command),
		results:     make(chan recognitionResult),
		done:        make(chan struct{}),
	}
}

// State returns the current state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns state, observer count and health.
func (c *Controller) Status() Status {
	c.mu.RLock()
	state, lastError := c.state, c.lastError
	c.mu.RUnlock()
	return Status{
		State:       state,
		Clients:     c.publisher.Count(),
		Operational: state != fsm.StateError,
		LastError:   lastError,
	}
}

// Health reports the state and whether the pipeline is operational.
func (c *Controller) Health() (fsm.State, bool) {
	state := c.State()
	return state, state != fsm.StateError
}

// StatusEvent is the reply to an observer's status request.
func (c *Controller) StatusEvent() protocol.Status {
	status := c.Status()
	return protocol.NewStatus(string(status.State), stateMessage(status.State, status.LastError), c.now()).
		WithClients(status.Clients)
}

// Welcome is the first message a new observer receives.
func (c *Controller) Welcome(clients int) any {
	return protocol.NewStatus(string(c.State()), protocol.MessageConnected, c.now()).WithClients(clients)
}

// Start begins capturing. It returns ErrAlreadyActive when a capture is
// already running.
func (c *Controller) Start(ctx context.Context) error {
	return c.send(ctx, commandStart)
}

// Stop ends the capture. It returns ErrNotActive when nothing is running.
func (c *Controller) Stop(ctx context.Context) error {
	return c.send(ctx, commandStop)
}

func (c *Controller) send(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands, audio and recognition results until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case cmd := <-c.commands:
			cmd.reply <- c.apply(cmd.kind)
		case chunk, ok := <-c.chunks:
			if !ok {
				c.streamEnded()
				continue
			}
			c.processChunk(chunk)
		case res := <-c.results:
			c.handleResult(res)
		}
	}
}

func (c *Controller) apply(kind commandKind) error {
	switch kind {
	case commandStart:
		return c.start()
	case commandStop:
		return c.stop("stop requested")
	default:
		return fmt.Errorf("unknown command %d", kind)
	}
}

func (c *Controller) start() error {
	state := c.State()
	if state.Active() {
		c.logger.Debug("start ignored", "state", string(state))
		return ErrAlreadyActive
	}
	if c.source == nil {
		err := errors.New("no audio source configured")
		c.fail(err)
		return err
	}

	stream, err := c.source.Open(c.runCtx)
	if err != nil {
		err = fmt.Errorf("open %s source: %w", c.source.Name(), err)
		c.fail(err)
		return err
	}

	c.segmenter.Reset()
	c.stream = stream
	c.chunks = stream.Chunks()
	c.transition(fsm.EventStart, protocol.MessageListening)
	c.logger.Info("capture started", "source", c.source.Name())
	return nil
}

// stop halts capture. With detection disabled the recording gathered so far
// is recognized as a final job whose transcript is still published.
func (c *Controller) stop(reason string) error {
	state := c.State()
	if !state.Active() {
		c.logger.Debug("stop ignored", "state", string(state))
		return ErrNotActive
	}

	tail := c.closeStream()
	c.abandonRecognition()

	if !c.segmenter.Config().Enabled {
		for _, chunk := range tail {
			c.segmenter.Push(chunk)
		}
		if utterance, ok := c.segmenter.Flush(); ok {
			c.dispatchUtterance(utterance)
			c.launch(utterance, true)
		}
	}
	c.segmenter.Reset()

	c.transition(fsm.EventStop, protocol.MessageStopped)
	c.logger.Info("capture stopped", "reason", reason)
	return nil
}

func (c *Controller) fail(err error) {
	c.closeStream()
	c.abandonRecognition()
	c.segmenter.Reset()
	c.logger.Error("capture failed", "error", err.Error())
	c.transition(fsm.EventFail, "Audio capture error: "+err.Error())
}

// closeStream stops the active stream and returns any chunks it had
// already delivered.
func (c *Controller) closeStream() [][]byte {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil {
		c.logger.Warn("stop audio stream", "error", err.Error())
	}

	var tail [][]byte
	for drained := false; !drained; {
		select {
		case chunk, ok := <-c.chunks:
			if !ok {
				drained = true
				continue
			}
			tail = append(tail, chunk)
		default:
			drained = true
		}
	}
	c.stream = nil
	c.chunks = nil
	return tail
}

// abandonRecognition invalidates in-flight and queued work; late results
// are discarded by generation. Final jobs are left running.
func (c *Controller) abandonRecognition() {
	c.generation++
	if c.cancelJob != nil {
		c.cancelJob()
		c.cancelJob = nil
	}
	c.inflight = false
	c.queue = nil
}

func (c *Controller) streamEnded() {
	err := c.stream.Err()
	if err != nil {
		c.fail(fmt.Errorf("audio stream: %w", err))
		return
	}
	_ = c.stop("audio stream ended")
}

func (c *Controller) processChunk(chunk []byte) {
	event := c.segmenter.Push(chunk)
	c.metrics.ObserveChunk(event.Energy)

	switch event.Kind {
	case segment.EventUtteranceStarted:
		if c.State() == fsm.StateListening {
			c.transition(fsm.EventVoiceStarted, protocol.MessageRecording)
		}
	case segment.EventUtteranceReady:
		c.dispatchUtterance(event.Utterance)
		if c.inflight {
			c.queue = append(c.queue, event.Utterance)
			c.logger.Debug("utterance queued", "queued", len(c.queue))
			return
		}
		c.beginRecognition(event.Utterance)
	case segment.EventNone:
		if !event.Discarded {
			return
		}
		c.metrics.ObserveDiscard()
		c.logger.Debug("utterance too short, ignoring", "voiced_ms", event.DiscardedSpan.Milliseconds())
		if c.State() == fsm.StateRecording {
			c.transition(fsm.EventDiscarded, protocol.MessageListening)
		}
	}
}

func (c *Controller) dispatchUtterance(utterance segment.Utterance) {
	c.metrics.ObserveUtterance(utterance.Duration())
	c.logger.Info("utterance ready",
		"duration_ms", utterance.Duration().Milliseconds(),
		"voiced_ms", utterance.Voiced().Milliseconds(),
		"chunks", utterance.Len(),
	)
	if c.onUtterance != nil {
		c.onUtterance(utterance)
	}
}

func (c *Controller) beginRecognition(utterance segment.Utterance) {
	if !c.transition(fsm.EventUtteranceReady, protocol.MessageTranscribing) {
		return
	}
	c.inflight = true
	c.launch(utterance, false)
}

// launch runs recognition off the loop and posts the result back.
func (c *Controller) launch(utterance segment.Utterance, final bool) {
	if c.recognizer == nil {
		c.logger.Warn("no recognizer configured; dropping utterance")
		c.inflight = false
		return
	}

	ctx, cancel := context.WithCancel(c.runCtx)
	if !final {
		c.cancelJob = cancel
	}
	generation := c.generation

	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		defer cancel()
		result := c.recognizer.Recognize(ctx, utterance)
		select {
		case c.results <- recognitionResult{generation: generation, final: final, result: result}:
		case <-c.done:
		}
	}()
}

func (c *Controller) handleResult(res recognitionResult) {
	// Final jobs outlive their capture and are never invalidated.
	if res.final {
		if res.result.OK() {
			c.publishTranscript(res.result.Text)
		}
		return
	}
	if res.generation != c.generation {
		c.logger.Debug("discarding recognition result from a stopped capture")
		return
	}

	c.inflight = false
	c.cancelJob = nil
	if c.State() != fsm.StateTranscribing {
		return
	}

	message := protocol.MessageListening
	switch {
	case res.result.OK():
		c.publishTranscript(res.result.Text)
	case res.result.Outcome == recognizer.OutcomeEmpty:
		message = MessageNoSpeech
	default:
		message = protocol.MessageTranscriptionFailed
	}
	c.transition(fsm.EventTranscribed, message)

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.beginRecognition(next)
		return
	}
	if c.segmenter.Buffering() {
		c.transition(fsm.EventVoiceStarted, protocol.MessageRecording)
	}
}

func (c *Controller) publishTranscript(text string) {
	c.logger.Info("transcript", "chars", len(text))
	c.publisher.Broadcast(protocol.NewTranscription(text, c.now()))
}

// transition applies event and publishes exactly one status for it.
func (c *Controller) transition(event fsm.Event, message string) bool {
	c.mu.Lock()
	from := c.state
	next, err := fsm.Transition(from, event)
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("transition ignored", "state", string(from), "event", string(event), "error", err.Error())
		return false
	}
	c.state = next
	switch {
	case next == fsm.StateError:
		c.lastError = message
	case event == fsm.EventStart:
		c.lastError = ""
	}
	c.mu.Unlock()

	c.metrics.ObserveTransition(string(from), string(next))
	c.logger.Debug("session transition", "from", string(from), "event", string(event), "to", string(next))
	c.publisher.Broadcast(protocol.NewStatus(string(next), message, c.now()))
	return true
}

func (c *Controller) shutdown() {
	if c.State().Active() {
		c.closeStream()
		c.transition(fsm.EventStop, protocol.MessageStopped)
	}
	c.abandonRecognition()
	close(c.done)
	c.jobs.Wait()
}

func stateMessage(state fsm.State, lastError string) string {
	switch state {
	case fsm.StateListening:
		return protocol.MessageListening
	case fsm.StateRecording:
		return protocol.MessageRecording
	case fsm.StateTranscribing:
		return protocol.MessageTranscribing
	case fsm.StateStopped:
		return protocol.MessageStopped
	case fsm.StateError:
		return lastError
	default:
		return "Idle"
	}
}
