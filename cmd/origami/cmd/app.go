package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/good-yellow-bee/origami/internal/contacts"
	"github.com/good-yellow-bee/origami/internal/domains/agriculture"
	"github.com/good-yellow-bee/origami/internal/domains/elderly"
	"github.com/good-yellow-bee/origami/internal/domains/security"
	"github.com/good-yellow-bee/origami/internal/models"
	"github.com/good-yellow-bee/origami/internal/notifier"
	"github.com/good-yellow-bee/origami/internal/pipeline"
	"github.com/good-yellow-bee/origami/internal/plugin"
	"github.com/good-yellow-bee/origami/internal/router"
	"github.com/good-yellow-bee/origami/internal/storage"
)

// allChannels is the registration order for simulated notifiers.
var allChannels = []models.Channel{
	models.ChannelVoice, models.ChannelSMS, models.ChannelEmail, models.ChannelPush, models.ChannelWebhook,
}

// app holds the wired components shared by the commands.
type app struct {
	cfg        *Config
	logger     *slog.Logger
	store      storage.Storage
	registry   *plugin.Registry
	directory  *contacts.Directory
	dispatcher *notifier.Dispatcher
	router     *router.Router
	security   *security.Engine
}

// reportBackend joins the registry and router for the reporting API.
type reportBackend struct {
	*plugin.Registry
	chains *router.Router
}

func (b reportBackend) Chain(alertID string) (models.Chain, bool) { return b.chains.Chain(alertID) }
func (b reportBackend) Chains() []models.Chain                    { return b.chains.Chains() }

// newApp opens storage and builds every component. The caller must Close it.
func newApp(cfg *Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	if err := store.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate storage: %w", err)
	}

	a.registry = plugin.New(plugin.WithLogger(logger), plugin.WithHistoryLimit(cfg.History))
	if err := a.registerDomains(); err != nil {
		a.Close()
		return nil, err
	}

	a.directory = contacts.NewDirectory()
	if cfg.Contacts != "" {
		n, err := a.directory.LoadFile(cfg.Contacts)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load contacts: %w", err)
		}
		logger.Info("contacts loaded", "path", cfg.Contacts, "count", n)
	}

	a.dispatcher, err = buildDispatcher(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.router = router.New(a.directory, a.dispatcher, cfg.Router,
		router.WithLogger(logger),
		router.WithRecorder(store))
	return a, nil
}

func (a *app) registerDomains() error {
	elderlyT, err := a.cfg.Domains.ElderlyCare.Resolve()
	if err != nil {
		return fmt.Errorf("elderly_care thresholds: %w", err)
	}
	agriT, err := a.cfg.Domains.Agriculture.Resolve()
	if err != nil {
		return fmt.Errorf("agriculture thresholds: %w", err)
	}
	a.security, err = security.New(a.cfg.Domains.Security.RulesFile)
	if err != nil {
		return err
	}

	plugins := []struct {
		domain models.Domain
		engine plugin.Engine
	}{
		{elderly.Domain(), elderly.New(elderlyT)},
		{agriculture.Domain(), agriculture.New(agriT)},
		{security.Domain(), a.security},
	}
	for _, p := range plugins {
		if err := a.registry.Register(p.domain, p.engine); err != nil {
			return fmt.Errorf("register %s: %w", p.domain.ID, err)
		}
	}
	return nil
}

// buildDispatcher registers configured notifiers. Real and console notifiers
// win over simulated ones for the same channel.
func buildDispatcher(cfg *Config, logger *slog.Logger) (*notifier.Dispatcher, error) {
	d := notifier.NewDispatcherWithRateLimit(cfg.Notifiers.RateLimit, logger)

	if cfg.Notifiers.Simulated.Enabled {
		configured := cfg.configuredChannels()
		for _, ch := range allChannels {
			if configured[ch] {
				continue
			}
			// A missing rate is zero, which selects the channel default.
			rate := cfg.Notifiers.Simulated.Rates[string(ch)]
			d.Register(notifier.NewSimulatedNotifier(ch, rate, cfg.Notifiers.Simulated.Latency))
		}
	}
	for _, ch := range cfg.Notifiers.Console {
		d.Register(notifier.NewConsoleNotifier(models.ParseChannel(ch), logger))
	}
	if cfg.Notifiers.Email != nil {
		n, err := notifier.NewEmailNotifier(*cfg.Notifiers.Email)
		if err != nil {
			return nil, err
		}
		d.Register(n)
	}
	for _, wc := range cfg.Notifiers.Webhooks {
		wc.Channel = models.ParseChannel(string(wc.Channel))
		n, err := notifier.NewWebhookNotifier(wc)
		if err != nil {
			return nil, err
		}
		d.Register(n)
	}
	if len(d.Channels()) == 0 {
		logger.Warn("no notifiers configured, every chain will be exhausted")
	}
	return d, nil
}

// restore reloads persisted alerts and chains into the registry and router.
func (a *app) restore(ctx context.Context) error {
	var (
		alerts []models.Alert
		chains []models.Chain
	)
	for _, d := range a.registry.Domains() {
		snap, err := a.store.LoadSnapshot(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("load %s: %w", d.ID, err)
		}
		if err := a.registry.Restore(d.ID, snap.Alerts); err != nil {
			return fmt.Errorf("restore %s: %w", d.ID, err)
		}
		alerts = append(alerts, snap.Alerts...)
		chains = append(chains, snap.Chains...)
	}
	if skipped := a.router.Restore(alerts, chains); skipped > 0 {
		a.logger.Warn("skipped chains without a stored alert", "count", skipped)
	}
	a.logger.Info("history restored", "alerts", len(alerts), "chains", len(chains))
	return nil
}

// snapshot writes every domain's alerts and chains in one transaction each.
func (a *app) snapshot(ctx context.Context) error {
	byDomain := make(map[string][]models.Chain)
	for _, c := range a.router.Chains() {
		byDomain[c.DomainID] = append(byDomain[c.DomainID], c)
	}
	var errs []error
	for _, d := range a.registry.Domains() {
		snap := storage.DomainSnapshot{
			DomainID: d.ID,
			Alerts:   a.registry.History(d.ID),
			Chains:   byDomain[d.ID],
		}
		if err := a.store.SaveSnapshot(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) pipeline() *pipeline.Pipeline {
	return pipeline.New(a.cfg.Pipeline, a.registry, a.router, a.logger)
}

// db exposes the SQL handle of the storage backend for health checks.
func (a *app) db() *sql.DB {
	if s, ok := a.store.(interface{ DB() *sql.DB }); ok {
		return s.DB()
	}
	return nil
}

func (a *app) backend() reportBackend {
	return reportBackend{Registry: a.registry, chains: a.router}
}

// Close releases notifiers and storage.
func (a *app) Close() error {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
