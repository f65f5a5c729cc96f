package demo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xbridge"
	"github.com/trickstertwo/xbridge/cmd/xbridge/internal"
)

type Product struct {
	SKU   string  `json:"sku"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type ThemeChanged struct {
	Theme string `json:"theme"`
}

func runDemo(parent context.Context, cfg xbridge.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := internal.NewLogger("xbridge-demo")
	clock := xclock.Default()

	build := func(id string) (*xbridge.Bridge, error) {
		cfg.Participant = id
		return xbridge.NewBridgeBuilder().
			WithConfig(cfg).
			WithLogger(logger.With(xlog.Str("participant", id))).
			WithClock(clock).
			WithMiddleware(xbridge.TimeoutMiddleware(cfg.RequestTimeout)).
			Build()
	}

	shell, err := build("shell")
	if err != nil {
		return fmt.Errorf("build shell: %w", err)
	}
	defer func() { _ = shell.Close(context.Background()) }()

	catalog, err := build("catalog")
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	defer func() { _ = catalog.Close(context.Background()) }()

	cart, err := build("cart")
	if err != nil {
		return fmt.Errorf("build cart: %w", err)
	}
	defer func() { _ = cart.Close(context.Background()) }()

	if _, err := xbridge.RegisterAs(catalog, "get-product", func(_ context.Context, req struct {
		SKU string `json:"sku"`
	}, _ xbridge.Envelope) (Product, error) {
		if req.SKU == "" {
			return Product{}, errors.New("sku required")
		}
		return Product{SKU: req.SKU, Name: "Analytical Engine", Price: 1843}, nil
	}); err != nil {
		return err
	}

	for _, p := range []*xbridge.Bridge{catalog, cart} {
		self := p.Identity()
		if _, err := xbridge.OnAs(p, "theme-changed", func(_ context.Context, evt ThemeChanged, env xbridge.Envelope) {
			logger.With(
				xlog.Str("participant", self),
				xlog.Str("from", env.Meta.Source),
				xlog.Str("theme", evt.Theme),
			).Info().Msg("theme changed")
		}); err != nil {
			return err
		}
	}

	if _, err := shell.On(xbridge.TypeReady, func(_ context.Context, env xbridge.Envelope) {
		logger.With(xlog.Str("from", env.Meta.Source)).Info().Msg("participant ready")
	}); err != nil {
		return err
	}

	for _, p := range []*xbridge.Bridge{catalog, cart} {
		if err := p.Ready(ctx); err != nil {
			return err
		}
	}

	if err := shell.Emit(ctx, "theme-changed", ThemeChanged{Theme: "dark"}, xbridge.WithBroadcast(true)); err != nil {
		return err
	}

	product, err := xbridge.RequestAs[Product](ctx, shell, "get-product", map[string]string{"sku": "ae-1"})
	if err != nil {
		return fmt.Errorf("get-product: %w", err)
	}
	logger.With(
		xlog.Str("sku", product.SKU),
		xlog.Str("name", product.Name),
		xlog.Str("price", strconv.FormatFloat(product.Price, 'f', 2, 64)),
	).Info().Msg("product resolved")

	if _, err := shell.Request(ctx, "get-product", map[string]string{}); err != nil {
		logger.Warn().Err(err).Msg("remote handler rejected request")
	}

	if _, err := shell.Request(ctx, "slow-op", nil, xbridge.WithTimeout(50*time.Millisecond)); err != nil {
		logger.Warn().Err(err).Msg("request without handler")
	}

	m := shell.GetMetrics()
	logger.With(
		xlog.Str("requests", fmt.Sprint(m.Requests)),
		xlog.Str("resolved", fmt.Sprint(m.Resolved)),
		xlog.Str("rejected", fmt.Sprint(m.Rejected)),
		xlog.Str("timed_out", fmt.Sprint(m.TimedOut)),
		xlog.Str("avg_round_trip_ms", strconv.FormatFloat(m.AvgRoundTripMs, 'f', 3, 64)),
	).Info().Msg("shell metrics")
	return nil
}
