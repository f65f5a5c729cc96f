package xbridge

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BridgeBuilder constructs Bridge instances (Builder pattern).
type BridgeBuilder struct {
	identity string

	transportName string
	transportCfg  map[string]any
	transportInst Transport

	codecName string
	codecInst Codec

	middlewares    []Middleware
	observers      []Observer
	logger         *xlog.Logger
	clock          xclock.Clock
	ids            IDGenerator
	requestTimeout time.Duration
	debug          bool

	poolWorkers int
	poolBuffer  int
}

// NewBridgeBuilder returns a new builder with sensible defaults.
func NewBridgeBuilder() *BridgeBuilder {
	return &BridgeBuilder{
		codecName:      "json",
		requestTimeout: DefaultRequestTimeout,
	}
}

// WithIdentity sets the participant id stamped as source on every envelope.
func (bb *BridgeBuilder) WithIdentity(id string) *BridgeBuilder {
	bb.identity = id
	return bb
}

func (bb *BridgeBuilder) WithTransport(name string, cfg map[string]any) *BridgeBuilder {
	bb.transportName = name
	bb.transportCfg = cfg
	return bb
}

// WithTransportInstance accepts a ready Transport instance (e.g., a memory hub attachment).
func (bb *BridgeBuilder) WithTransportInstance(t Transport) *BridgeBuilder {
	bb.transportInst = t
	return bb
}

func (bb *BridgeBuilder) WithCodec(name string) *BridgeBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BridgeBuilder) WithCodecInstance(c Codec) *BridgeBuilder {
	bb.codecInst = c
	return bb
}

// WithMiddleware wraps every Register handler.
func (bb *BridgeBuilder) WithMiddleware(mw ...Middleware) *BridgeBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BridgeBuilder) WithObserver(obs ...Observer) *BridgeBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithObserverPool dispatches observer events on a bounded worker pool
// instead of inline.
func (bb *BridgeBuilder) WithObserverPool(workers, bufferSize int) *BridgeBuilder {
	bb.poolWorkers = workers
	bb.poolBuffer = bufferSize
	return bb
}

func (bb *BridgeBuilder) WithLogger(l *xlog.Logger) *BridgeBuilder {
	bb.logger = l
	return bb
}

func (bb *BridgeBuilder) WithClock(c xclock.Clock) *BridgeBuilder {
	bb.clock = c
	return bb
}

// WithIDGenerator replaces the UUID generator used for correlation and trace ids.
func (bb *BridgeBuilder) WithIDGenerator(g IDGenerator) *BridgeBuilder {
	bb.ids = g
	return bb
}

// WithRequestTimeout sets the default Request deadline (default: 8s).
func (bb *BridgeBuilder) WithRequestTimeout(d time.Duration) *BridgeBuilder {
	if d > 0 {
		bb.requestTimeout = d
	}
	return bb
}

// WithDebug sets the initial envelope tracing flag.
func (bb *BridgeBuilder) WithDebug(on bool) *BridgeBuilder {
	bb.debug = on
	return bb
}

// WithConfig applies an environment Config. Explicit identity, transport
// instance and debug settings made earlier are kept.
func (bb *BridgeBuilder) WithConfig(cfg Config) *BridgeBuilder {
	if cfg.Participant != "" && bb.identity == "" {
		bb.identity = cfg.Participant
	}
	if cfg.Transport != "" {
		bb.WithTransport(cfg.Transport, cfg.TransportConfig())
	}
	if cfg.ObserverWorkers > 0 || cfg.ObserverBuffer > 0 {
		bb.WithObserverPool(cfg.ObserverWorkers, cfg.ObserverBuffer)
	}
	if cfg.Debug {
		bb.debug = true
	}
	return bb.WithRequestTimeout(cfg.RequestTimeout)
}

func (bb *BridgeBuilder) Build() (*Bridge, error) {
	if bb.identity == "" {
		return nil, ErrNoIdentity
	}

	var tr Transport
	var err error

	switch {
	case bb.transportInst != nil:
		tr = bb.transportInst
	case bb.transportName != "":
		tr, err = NewTransport(bb.transportName, bb.transportCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoTransportConfigured
	}

	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	ids := bb.ids
	if ids == nil {
		ids = NewID
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		self:      bb.identity,
		transport: tr,
		codec:     cd,
		clock:     clk,
		logger:    lg,
		ids:       ids,
		baseCtx:   baseCtx,
		cancel:    cancel,
		metrics:   &bridgeMetrics{},
		subs:      make(map[*subscriptionFunc]struct{}),
	}
	b.handlerCtx = InjectAll(baseCtx, cd, lg, clk)
	b.debug.Store(bb.debug)

	if bb.poolWorkers > 0 || bb.poolBuffer > 0 {
		b.observerPool = NewObserverPool(context.Background(), bb.poolWorkers, bb.poolBuffer)
	}
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	b.rpc = newRPCEngine(b, cd, clk, bb.requestTimeout, bb.middlewares)
	if err := b.rpc.start(); err != nil {
		cancel()
		if b.observerPool != nil {
			_ = b.observerPool.Close(time.Second)
		}
		return nil, err
	}

	return b, nil
}

// New constructs a Bridge via Builder and returns a close func for convenience.
func New(init func(b *BridgeBuilder)) (*Bridge, func() error, error) {
	b := NewBridgeBuilder()
	if init != nil {
		init(b)
	}
	br, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return br.Close(context.Background()) }
	return br, closeFn, nil
}
