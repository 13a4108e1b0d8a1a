package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/eventlog"
	"github.com/roach88/tandem/internal/network"
	"github.com/roach88/tandem/internal/replay"
	"github.com/roach88/tandem/internal/world"
)

// Option configures a Session.
type Option func(*options)

type options struct {
	src      clock.Source
	sessions replay.SessionGenerator
	rng      *rand.Rand
}

// WithSource replaces the system time source.
func WithSource(src clock.Source) Option {
	return func(o *options) { o.src = src }
}

// WithSessionGenerator replaces the UUIDv7 recording session names.
func WithSessionGenerator(g replay.SessionGenerator) Option {
	return func(o *options) { o.sessions = g }
}

// WithRand sets the random source used for spawn placement.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// Session is one running peer.
type Session struct {
	cfg    config.Config
	clock  *clock.Clock
	bus    *event.Bus
	world  *world.Directory
	log    *eventlog.Logger
	replay *replay.Engine

	server *network.Server
	client *network.Client

	startOnce sync.Once
	started   atomic.Bool
	logCtx    context.Context
	stopLog   context.CancelFunc
	logDone   chan struct{}
	closeOnce sync.Once
}

func newSession(cfg config.Config, id event.PeerID, o options) (*Session, error) {
	c := clock.New(o.src, clock.WithTickSize(cfg.TickSize))
	if err := c.Start(); err != nil {
		return nil, err
	}
	bus := event.NewBus(c, id)
	dir := world.NewDirectory()

	log, err := eventlog.Open(cfg.LogDir)
	if err != nil {
		return nil, err
	}
	if _, err := log.Attach(bus); err != nil {
		_ = log.Close()
		return nil, err
	}
	engine, err := replay.New(c, bus, dir, log, cfg.LogDir, o.sessions)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	if err := engine.Attach(); err != nil {
		_ = log.Close()
		return nil, err
	}

	logCtx, stopLog := context.WithCancel(context.Background())
	return &Session{
		cfg:     cfg,
		clock:   c,
		bus:     bus,
		world:   dir,
		log:     log,
		replay:  engine,
		logCtx:  logCtx,
		stopLog: stopLog,
		logDone: make(chan struct{}),
	}, nil
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

// NewServer builds the server peer and populates the level.
func NewServer(cfg config.Config, opts ...Option) (*Session, error) {
	o := collect(opts)
	s, err := newSession(cfg, event.ServerID, o)
	if err != nil {
		return nil, err
	}
	world.Populate(s.world, world.Layout{
		StaticPlatforms: cfg.StaticPlatforms,
		MovingPlatforms: cfg.MovingPlatforms,
		SpawnPoints:     cfg.SpawnPoints,
	})
	sp := world.NewSpawner(s.world, o.rng, cfg.SpawnRetries, cfg.SpawnRadius)
	s.server = network.NewServer(s.bus, s.clock, s.world, sp, network.Mode(cfg.Mode))
	return s, nil
}

// Join builds a client peer connected to the server at addr. Object
// updates from the server are held while the local replay engine is busy.
func Join(ctx context.Context, cfg config.Config, addr string, opts ...Option) (*Session, error) {
	s, err := newSession(cfg, event.NoPeer, collect(opts))
	if err != nil {
		return nil, err
	}
	client, err := network.Dial(ctx, addr, s.bus, s.world, network.WithHold(s.replay.Active))
	if err != nil {
		_ = s.log.Close()
		return nil, err
	}
	s.client = client

	// Ask the server for object changes so recordings on this peer have
	// something to replay.
	if _, err := s.bus.Register(event.GameObjectChange, event.ObserverFunc(s.observeChange), true); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// observeChange applies object changes raised by other peers.
func (s *Session) observeChange(ev *event.Event) error {
	if ev.Originator() == s.bus.Identity() || s.replay.Active() {
		return nil
	}
	v, ok := ev.Arg("object")
	if !ok {
		return nil
	}
	obj, ok := v.(world.Object)
	if !ok {
		return fmt.Errorf("object argument is %T", v)
	}
	s.world.Replace(obj)
	if obj.Removed {
		s.world.Remove(obj.GUID)
	}
	return nil
}

// Clock returns the session clock.
func (s *Session) Clock() *clock.Clock { return s.clock }

// Bus returns the session bus.
func (s *Session) Bus() *event.Bus { return s.bus }

// World returns the object directory.
func (s *Session) World() *world.Directory { return s.world }

// Replay returns the replay engine.
func (s *Session) Replay() *replay.Engine { return s.replay }

// Log returns the event logger.
func (s *Session) Log() *eventlog.Logger { return s.log }

// Server returns the connection manager, or nil on a client.
func (s *Session) Server() *network.Server { return s.server }

// Client returns the server connection, or nil on the server.
func (s *Session) Client() *network.Client { return s.client }

// Start launches the log worker. Serve and Run call it.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go func() {
			defer close(s.logDone)
			if err := s.log.Run(s.logCtx); err != nil {
				slog.Error("log worker", "error", err)
			}
		}()
	})
}

// Step runs one simulation tick.
func (s *Session) Step() {
	ticked := s.clock.Tick()
	replaying := s.replay.Active()

	if ticked && s.server != nil && !replaying {
		dt := 1 / float64(s.cfg.LoopRate)
		moved := s.world.Advance(dt)
		s.bus.Batch(func() {
			for _, o := range moved {
				_, _ = s.bus.Raise(event.GameObjectChange, event.KV("object", o)...)
			}
		})
		if s.server.Mode() == network.ModeDistributed {
			s.server.Broadcast(moved, event.NoPeer)
		}
	}

	s.replay.Step()

	if s.server != nil {
		s.server.RetrySpawns()
		if s.server.Mode() == network.ModeCentralized && !s.replay.Active() {
			s.server.BroadcastDynamic()
		}
	}
	if s.client != nil {
		s.client.FlushHeld()
	}
}

// Serve accepts peers on ln and runs the simulation until ctx is done.
func (s *Session) Serve(ctx context.Context, ln net.Listener) error {
	if s.server == nil {
		return errors.New("serve: session is not a server")
	}
	s.Start()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.server.Serve(ctx, ln) }()

	s.loop(ctx, nil)
	cancel()
	err := <-serveErr
	s.Close()
	return err
}

// Run drives a client session until ctx is done or the server goes away.
func (s *Session) Run(ctx context.Context) error {
	if s.client == nil {
		return errors.New("run: session is not a client")
	}
	s.Start()
	s.loop(ctx, s.client.Done())

	var err error
	select {
	case <-s.client.Done():
		err = s.client.Wait(context.Background())
	default:
	}
	s.Close()
	return err
}

func (s *Session) loop(ctx context.Context, done <-chan struct{}) {
	rate := s.cfg.LoopRate
	if rate <= 0 {
		rate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	slog.Info("simulation running", "rate", rate)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Close stops the network role and the log worker and closes the log.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.server != nil {
			s.server.Close()
		}
		if s.client != nil {
			s.client.Close()
		}
		// Close drains the worker's queue before closing the files.
		if err := s.log.Close(); err != nil {
			slog.Warn("close log", "error", err)
		}
		s.stopLog()
		if s.started.Load() {
			<-s.logDone
		}
	})
}
