// Package actor implements the message runtime gluing the agent's
// components together. Each named actor owns an unbounded FIFO inbox
// and a goroutine draining it; BROADCAST fans a message out to every
// registered actor.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openbms-io/supervisor-sub000/internal/metrics"
	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// Name identifies one registered actor.
type Name string

const (
	NameMQTT          Name = "MQTT"
	NameBacnet        Name = "BACNET"
	NameBacnetWriter  Name = "BACNET_WRITER"
	NameUploader      Name = "UPLOADER"
	NameBroadcast     Name = "BROADCAST"
	NameCleaner       Name = "CLEANER"
	NameHeartbeat     Name = "HEARTBEAT"
	NameSystemMetrics Name = "SYSTEM_METRICS"
)

// Message is one unit of delivery between actors.
type Message struct {
	Sender  Name
	Type    models.MessageType
	Payload any
}

// Handler consumes one message. Errors are logged, never propagated;
// an actor failure must not take down the runtime.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// inbox is an unbounded FIFO. Send never blocks the producer.
type inbox struct {
	mu     sync.Mutex
	queue  []Message
	wake   chan struct{}
	closed bool
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (in *inbox) put(msg Message) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.queue = append(in.queue, msg)
	in.mu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
	return true
}

func (in *inbox) pop() (Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) == 0 {
		return Message{}, false
	}
	msg := in.queue[0]
	in.queue = in.queue[1:]
	return msg, true
}

func (in *inbox) close() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return len(in.queue)
}

func (in *inbox) depth() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Runtime is the actor registry and supervisor.
type Runtime struct {
	logger *slog.Logger

	mu      sync.Mutex
	actors  map[Name]*registration
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type registration struct {
	name    Name
	handler Handler
	inbox   *inbox
}

// NewRuntime creates an empty runtime.
func NewRuntime(logger *slog.Logger) *Runtime {
	return &Runtime{
		logger: logger,
		actors: make(map[Name]*registration),
	}
}

// Register adds an actor under a name. Must be called before Start.
func (rt *Runtime) Register(name Name, handler Handler) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		return fmt.Errorf("cannot register %s after start", name)
	}
	if _, dup := rt.actors[name]; dup {
		return fmt.Errorf("actor %s already registered", name)
	}
	rt.actors[name] = &registration{name: name, handler: handler, inbox: newInbox()}
	return nil
}

// Send enqueues a message for one actor and returns as soon as it is
// queued, never when it is consumed. BROADCAST expands to every
// registered actor except the broadcast name itself.
func (rt *Runtime) Send(sender, receiver Name, msgType models.MessageType, payload any) error {
	msg := Message{Sender: sender, Type: msgType, Payload: payload}

	if receiver == NameBroadcast {
		for _, reg := range rt.snapshot() {
			if reg.name == NameBroadcast {
				continue
			}
			rt.deliver(reg, msg)
		}
		return nil
	}

	rt.mu.Lock()
	reg, ok := rt.actors[receiver]
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown actor %s", receiver)
	}
	rt.deliver(reg, msg)
	return nil
}

func (rt *Runtime) deliver(reg *registration, msg Message) {
	if !reg.inbox.put(msg) {
		rt.logger.Warn("message dropped, inbox closed",
			slog.String("receiver", string(reg.name)),
			slog.String("type", string(msg.Type)),
		)
		return
	}
	metrics.ActorMessagesTotal.WithLabelValues(string(reg.name)).Inc()
	metrics.ActorInboxDepth.WithLabelValues(string(reg.name)).Set(float64(reg.inbox.depth()))
}

func (rt *Runtime) snapshot() []*registration {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	regs := make([]*registration, 0, len(rt.actors))
	for _, reg := range rt.actors {
		regs = append(regs, reg)
	}
	return regs
}

// Start spawns each actor's drain loop.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	if rt.started {
		rt.mu.Unlock()
		return fmt.Errorf("runtime already started")
	}
	rt.started = true
	ctx, rt.cancel = context.WithCancel(ctx)
	regs := make([]*registration, 0, len(rt.actors))
	for _, reg := range rt.actors {
		regs = append(regs, reg)
	}
	rt.mu.Unlock()

	for _, reg := range regs {
		rt.wg.Add(1)
		go rt.loop(ctx, reg)
	}
	rt.logger.Info("actor runtime started", slog.Int("actors", len(regs)))
	return nil
}

// loop drains one actor's inbox until cancellation. An in-flight handler
// call is allowed to finish; remaining queued messages are dropped with
// a warning on shutdown.
func (rt *Runtime) loop(ctx context.Context, reg *registration) {
	defer rt.wg.Done()
	logger := rt.logger.With(slog.String("actor", string(reg.name)))

	for {
		msg, ok := reg.inbox.pop()
		if !ok {
			select {
			case <-ctx.Done():
				rt.drain(reg, logger)
				return
			case <-reg.inbox.wake:
				continue
			}
		}

		metrics.ActorInboxDepth.WithLabelValues(string(reg.name)).Set(float64(reg.inbox.depth()))
		if err := reg.handler.Handle(ctx, msg); err != nil {
			logger.Error("message handling failed",
				slog.String("type", string(msg.Type)),
				slog.String("sender", string(msg.Sender)),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			rt.drain(reg, logger)
			return
		default:
		}
	}
}

func (rt *Runtime) drain(reg *registration, logger *slog.Logger) {
	if dropped := reg.inbox.close(); dropped > 0 {
		logger.Warn("dropping pending messages on shutdown", slog.Int("dropped", dropped))
	}
}

// Stop signals cancellation and waits for every actor loop to exit.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	cancel := rt.cancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	rt.wg.Wait()
	rt.logger.Info("actor runtime stopped")
}
