package coratools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jtrauntvein/coratools/config"
	"github.com/jtrauntvein/coratools/datasource"
	"github.com/jtrauntvein/coratools/dbsource"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/retry"
	"github.com/jtrauntvein/coratools/router"
)

// DialFunc opens the transport to the server.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Configurable is implemented by every transaction component through its
// embedded base.
type Configurable interface {
	SetLogger(logger *slog.Logger) error
	SetAppName(name string) error
	SetLogonName(name string) error
	SetLogonPassword(password string) error
}

// Client owns the connection to a LoggerNet server, the dispatcher every
// component runs on and, when configured, the database source.
type Client struct {
	cfg    config.Config
	logger *slog.Logger
	dial   DialFunc

	dispatcher *event.Dispatcher
	router     *router.StreamRouter
	manager    *datasource.Manager
	db         *dbsource.Source
	dbOpts     []dbsource.Option

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the logger built from the log section.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces net.Dialer for Dial.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithDBOptions passes extra options to the database source.
func WithDBOptions(opts ...dbsource.Option) Option {
	return func(c *Client) {
		c.dbOpts = append(c.dbOpts, opts...)
	}
}

// Dial connects to cfg.Server.Address, retrying according to cfg.Retry, and
// returns a client ready to Run.
func Dial(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	c, err := newClient(cfg, opts)
	if err != nil {
		return nil, err
	}

	conn, err := retry.DoWithResult(ctx, cfg.Retry, func() (net.Conn, error) {
		dctx, cancel := context.WithTimeout(ctx, cfg.Server.DialTimeout)
		defer cancel()
		conn, err := c.dial(dctx, "tcp", cfg.Server.Address)
		if err != nil {
			c.logger.Warn("dial failed", slog.String("address", cfg.Server.Address), slog.Any("error", err))
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Server.Address, err)
	}
	c.logger.Info("connected", slog.String("address", cfg.Server.Address))

	if err := c.init(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient creates a client over an established transport.
func NewClient(conn io.ReadWriter, cfg config.Config, opts ...Option) (*Client, error) {
	c, err := newClient(cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := c.init(conn); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg config.Config, opts []Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Client{cfg: cfg}
	var d net.Dialer
	c.dial = d.DialContext
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		logger, err := config.NewLogger(cfg.Log, os.Stderr)
		if err != nil {
			return nil, err
		}
		c.logger = logger
	}
	return c, nil
}

func (c *Client) init(conn io.ReadWriter) error {
	c.dispatcher = event.NewDispatcher(event.WithLogger(c.logger))
	c.router = router.NewStreamRouter(conn, c.dispatcher, router.WithLogger(c.logger))
	c.manager = datasource.NewManager(c.dispatcher, datasource.WithLogger(c.logger))

	db := c.cfg.Database
	if db.ConnectString == "" {
		return nil
	}
	cs, err := db.Connect()
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	opts := []dbsource.Option{
		dbsource.WithLogger(c.logger),
		dbsource.WithPollInterval(db.PollInterval),
		dbsource.WithBatchSize(db.BatchSize),
		dbsource.WithWorkers(db.Workers),
	}
	c.db = dbsource.New(db.Name, c.manager, cs, append(opts, c.dbOpts...)...)
	if err := c.manager.AddSource(c.db); err != nil {
		c.db.Close()
		c.db = nil
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Dispatcher returns the dispatcher every component is bound to.
func (c *Client) Dispatcher() *event.Dispatcher { return c.dispatcher }

// Router returns the router components start on.
func (c *Client) Router() *router.StreamRouter { return c.router }

// Manager returns the data source manager.
func (c *Client) Manager() *datasource.Manager { return c.manager }

// DB returns the database source, or nil when none is configured.
func (c *Client) DB() *dbsource.Source { return c.db }

// Do runs fn on the dispatcher goroutine.
func (c *Client) Do(fn func()) {
	c.dispatcher.Post(&event.Func{Fn: fn})
}

// Configure applies the server section to a component in standby.
func (c *Client) Configure(comp Configurable) error {
	if err := comp.SetLogger(c.logger); err != nil {
		return err
	}
	if err := comp.SetAppName(c.cfg.Server.AppName); err != nil {
		return err
	}
	if err := comp.SetLogonName(c.cfg.Server.User); err != nil {
		return err
	}
	return comp.SetLogonPassword(c.cfg.Server.Password)
}

// Register registers the dispatcher and database metrics with reg.
func (c *Client) Register(reg prometheus.Registerer) error {
	if err := c.dispatcher.Metrics().Register(reg); err != nil {
		return err
	}
	if c.db != nil {
		if err := c.db.Metrics().Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the data sources, then reads from the server and delivers
// events until ctx is cancelled or the connection fails. The sources are
// stopped before Run returns. The goroutine calling Run must not deliver
// events itself.
func (c *Client) Run(ctx context.Context) error {
	c.manager.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.router.Run(gctx)
	})
	g.Go(func() error {
		return c.dispatcher.Run(gctx)
	})
	err := g.Wait()

	c.manager.Stop()
	c.dispatcher.Pump()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close closes the connection and the database source. It must not be called
// while Run is delivering events.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.router.Close()
		if c.db != nil {
			c.db.Close()
		}
		c.manager.Close()
	})
	return err
}
