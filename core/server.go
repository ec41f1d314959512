package core

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/wind/config"
	"github.com/searchktools/wind/core/handler"
	"github.com/searchktools/wind/core/http"
	"github.com/searchktools/wind/core/middleware"
	"github.com/searchktools/wind/core/observability"
	"github.com/searchktools/wind/core/poller"
	"github.com/searchktools/wind/core/pools"
	"github.com/searchktools/wind/core/reactor"
	"github.com/searchktools/wind/core/router"
	"github.com/searchktools/wind/core/socket"
)

// HandlerFunc defines the handler function type
type HandlerFunc func(ctx http.Context)

// Server is the HTTP/1.1 server: one listener, one reactor goroutine and a
// worker pool for offloaded work. Routes are registered before Listen and
// frozen afterwards.
type Server struct {
	cfg    config.Config
	limits http.Limits
	log    zerolog.Logger

	router     *router.Router[handler.Handler]
	dispatcher *handler.Dispatcher
	monitor    *observability.Monitor
	notFound   handler.Handler

	workers    *pools.WorkerPool
	ownWorkers bool
	bytePool   *pools.BytePool
	connPool   *pools.ConnectionPool[*Connection]

	// owned by the reactor goroutine once Run starts
	reactor     *reactor.Reactor
	listener    *socket.Listener
	conns       map[int]*Connection
	readBuf     []byte
	writeBuf    []byte
	acceptRetry bool
	lastSweep   time.Time
	sweepEvery  time.Duration

	loopRef  atomic.Pointer[reactor.Reactor]
	stopping atomic.Bool
	addr     net.Addr
	err      error
	now      func() time.Time

	open           atomic.Int64
	accepted       atomic.Uint64
	closed         atomic.Uint64
	protocolErrors atomic.Uint64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMiddleware appends middlewares to the dispatch pipeline
func WithMiddleware(mw ...middleware.HandlerFunc) Option {
	return func(s *Server) {
		s.dispatcher.Use(mw...)
	}
}

// WithMonitor replaces the request monitor
func WithMonitor(m *observability.Monitor) Option {
	return func(s *Server) {
		if m != nil {
			s.monitor = m
		}
	}
}

// WithWorkerPool makes Offload use p. The server does not close a pool it
// was given.
func WithWorkerPool(p *pools.WorkerPool) Option {
	return func(s *Server) {
		s.workers = p
	}
}

// NewServer creates a server for cfg
func NewServer(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		limits: http.Limits{
			MaxHeaderBytes: cfg.MaxHeaderBytes,
			MaxHeaderLine:  cfg.MaxHeaderLine,
			MaxBodyBytes:   cfg.MaxBodyBytes,
		},
		log:        zerolog.Nop(),
		router:     router.New[handler.Handler](),
		dispatcher: handler.NewDispatcher(nil),
		monitor:    observability.NewMonitor(),
		bytePool:   pools.NewBytePool(),
		conns:      make(map[int]*Connection, 1024),
		sweepEvery: sweepInterval(cfg),
		now:        time.Now,
	}
	s.connPool = pools.NewConnectionPool(newConnection)
	s.notFound = handler.Func(func(ctx http.Context) {
		ctx.Error(http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sweepInterval runs the timeout sweep at half the shortest timeout, at
// most once a second
func sweepInterval(cfg config.Config) time.Duration {
	d := time.Second
	for _, t := range []time.Duration{cfg.IdleTimeout, cfg.HandlerTimeout} {
		if t > 0 && t/2 < d {
			d = t / 2
		}
	}
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// Use appends middlewares to the dispatch pipeline
func (s *Server) Use(mw ...middleware.HandlerFunc) {
	s.dispatcher.Use(mw...)
}

// Handle registers h for pattern. Without methods a resource registers the
// methods it implements and any other handler GET and HEAD.
func (s *Server) Handle(pattern string, h handler.Handler, methods ...http.Method) error {
	if len(methods) == 0 && h.Kind() == handler.KindResource {
		methods = h.Methods()
	}
	if err := s.router.Add(pattern, methods, h); err != nil {
		if s.err == nil {
			s.err = err
		}
		return err
	}
	return nil
}

// HandleFunc registers fn for pattern and methods
func (s *Server) HandleFunc(pattern string, fn HandlerFunc, methods ...http.Method) error {
	return s.Handle(pattern, handler.Func(fn), methods...)
}

// Mount registers a route table, stopping at the first error
func (s *Server) Mount(routes []handler.Route) error {
	for _, r := range routes {
		if err := s.Handle(r.Pattern, r.Handler, r.Methods...); err != nil {
			return err
		}
	}
	return nil
}

// Route registration shortcuts. Errors are reported by Listen.

func (s *Server) GET(pattern string, fn HandlerFunc) {
	s.HandleFunc(pattern, fn, http.MethodGet)
}

func (s *Server) POST(pattern string, fn HandlerFunc) {
	s.HandleFunc(pattern, fn, http.MethodPost)
}

func (s *Server) PUT(pattern string, fn HandlerFunc) {
	s.HandleFunc(pattern, fn, http.MethodPut)
}

func (s *Server) DELETE(pattern string, fn HandlerFunc) {
	s.HandleFunc(pattern, fn, http.MethodDelete)
}

func (s *Server) PATCH(pattern string, fn HandlerFunc) {
	s.HandleFunc(pattern, fn, http.MethodPatch)
}

func (s *Server) HEAD(pattern string, fn HandlerFunc) {
	s.HandleFunc(pattern, fn, http.MethodHead)
}

func (s *Server) OPTIONS(pattern string, fn HandlerFunc) {
	s.HandleFunc(pattern, fn, http.MethodOptions)
}

// Router exposes the route table
func (s *Server) Router() *router.Router[handler.Handler] {
	return s.router
}

// Monitor returns the request monitor
func (s *Server) Monitor() *observability.Monitor {
	return s.monitor
}

// Logger returns the server logger
func (s *Server) Logger() zerolog.Logger {
	return s.log
}

// Addr returns the bound address, nil before Listen
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Listen validates the configuration, freezes the routes and binds the
// listening socket
func (s *Server) Listen() error {
	if s.err != nil {
		return s.err
	}
	if s.listener != nil {
		return ErrAlreadyListening
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.router.Freeze()

	r, err := reactor.New(
		reactor.WithPollTimeout(s.cfg.PollTimeout),
		reactor.WithLogger(s.log),
	)
	if err != nil {
		return err
	}
	ln, err := socket.Listen(s.cfg.Host, s.cfg.Port, socket.ListenOptions{
		Backlog:   s.cfg.Backlog,
		ReusePort: s.cfg.ReusePort,
	})
	if err != nil {
		r.Close()
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	if err := r.Register(ln.Fd(), poller.Readable, s.onAccept); err != nil {
		ln.Close()
		r.Close()
		return err
	}
	r.OnTick(s.tick)

	if s.workers == nil {
		n := s.cfg.Workers
		if n <= 0 {
			n = runtime.NumCPU()
		}
		s.workers = pools.NewWorkerPool(n)
		s.ownWorkers = true
	}
	s.readBuf = make([]byte, s.cfg.ReadChunk)
	s.writeBuf = make([]byte, 0, coalesceLimit)
	s.reactor = r
	s.listener = ln
	s.addr = ln.Addr()
	s.loopRef.Store(r)

	s.log.Info().
		Str("addr", s.addr.String()).
		Str("env", s.cfg.Env).
		Int("routes", len(s.router.Routes())).
		Msg("listening")
	return nil
}

// Run serves until Stop is called. It calls Listen when needed and closes
// every connection before returning.
func (s *Server) Run() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	if s.stopping.Load() {
		s.reactor.Stop()
	}
	err := s.reactor.Run()
	s.shutdown()
	return err
}

// Stop makes Run return. Safe for concurrent use.
func (s *Server) Stop() {
	s.stopping.Store(true)
	if r := s.loopRef.Load(); r != nil {
		r.Stop()
	}
}

func (s *Server) shutdown() {
	for _, c := range s.conns {
		c.close(closeShutdown, nil)
	}
	s.loopRef.Store(nil)
	s.reactor.Unregister(s.listener.Fd())
	s.listener.Close()
	s.reactor.Close()
	s.listener = nil
	if s.ownWorkers {
		s.workers.Close()
	}
	s.log.Info().
		Uint64("accepted", s.accepted.Load()).
		Msg("server stopped")
}

// loop returns the reactor while the server is serving
func (s *Server) loop() *reactor.Reactor {
	return s.loopRef.Load()
}

func (s *Server) onAccept(poller.Event) {
	s.acceptAll()
}

// acceptAll drains the accept queue. A failure other than an empty queue
// is retried from the next tick since no further edge may arrive.
func (s *Server) acceptAll() {
	s.acceptRetry = false
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, socket.ErrWouldBlock) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			s.acceptRetry = true
			return
		}

		c := s.connPool.Get()
		c.attach(s, sock)
		if err := s.reactor.Register(c.fd, poller.Readable, c.cb); err != nil {
			s.log.Warn().Err(err).Int("fd", c.fd).Msg("register connection")
			sock.Close()
			s.bytePool.Put(c.in[:cap(c.in)])
			s.connPool.Put(c)
			continue
		}
		c.interest = poller.Readable
		s.conns[c.fd] = c
		s.open.Add(1)
		s.accepted.Add(1)
	}
}

// forget drops a closed connection. The object goes back to the pool from
// a posted task so nothing on the current stack still refers to it.
func (s *Server) forget(c *Connection) {
	delete(s.conns, c.fd)
	s.open.Add(-1)
	s.closed.Add(1)
	if r := s.loop(); r != nil {
		r.Post(func() { s.connPool.Put(c) })
	}
}

func (s *Server) tick(now time.Time) {
	if s.acceptRetry {
		s.acceptAll()
	}
	if now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.lastSweep = now
	for _, c := range s.conns {
		c.checkTimeouts(now)
	}
}

// serve routes a freshly parsed request and runs its handler
func (s *Server) serve(ex *exchange) {
	m, err := s.router.Resolve(ex.req.Method, ex.req.Path)
	if err != nil {
		s.finishDispatch(ex, s.dispatcher.Dispatch(s.routeFailure(err), ex))
		return
	}
	ex.route = m.Route.Pattern
	for k, v := range m.Params {
		ex.SetParam(k, v)
	}
	s.finishDispatch(ex, s.dispatcher.Dispatch(m.Handler, ex))
}

// routeFailure answers unmatched requests through the middleware pipeline
func (s *Server) routeFailure(err error) handler.Handler {
	var mna *router.MethodNotAllowedError
	if !errors.As(err, &mna) {
		return s.notFound
	}
	allow := mna.Allow()
	return handler.Func(func(ctx http.Context) {
		ctx.SetHeader(HeaderAllow, allow)
		ctx.Error(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})
}

// resume runs a continuation callback unless its exchange is gone
func (s *Server) resume(k *continuation, fn func(http.Context)) {
	ex := k.ex
	c := ex.conn
	if ex.dead || ex.finished || c.gen != k.gen || c.exchange != ex {
		s.log.Debug().Str("path", ex.req.Path).Msg("dropping stale continuation")
		return
	}
	ex.suspended = false
	s.finishDispatch(ex, s.dispatcher.Resume(ex, fn))
}

// finishDispatch turns a dispatch error into a response. A failure after
// the head was sent can only close the connection.
func (s *Server) finishDispatch(ex *exchange, err error) {
	if err == nil {
		return
	}

	var mna *router.MethodNotAllowedError
	if errors.As(err, &mna) {
		if !ex.started {
			ex.header.Set(HeaderAllow, mna.Allow())
			ex.Error(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
		}
		return
	}

	ev := ex.Logger().Error().Err(err)
	var failure *handler.HandlerFailure
	if errors.As(err, &failure) && failure.Stack != nil {
		ev = ev.Bytes("stack", failure.Stack)
	}
	ev.Bool("started", ex.started).Msg("handler failed")

	switch {
	case ex.dead || ex.finished:
	case !ex.started:
		ex.Error(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	default:
		ex.conn.close(closeHandlerFailure, err)
	}
}

// record feeds the monitor once an exchange finished
func (s *Server) record(ex *exchange) {
	route := ex.route
	if route == "" {
		route = "unmatched"
	}
	s.monitor.Record(ex.req.Method.String()+" "+route, ex.Status(), ex.written, s.now().Sub(ex.start))
}
