package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alecthomas/kong"

	"chatdesk/catalog"
	"chatdesk/chat"
	"chatdesk/config"
	"chatdesk/events"
	"chatdesk/model"
	"chatdesk/provider"
	"chatdesk/storage"
	"chatdesk/stream"
	"chatdesk/thread"
)

// CLI is the root command structure for chatdesk.
type CLI struct {
	Debug   bool             `help:"Write a debug log to the data directory" env:"CHATDESK_DEBUG"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Chat      ChatCmd      `cmd:"" help:"Send a message and stream the reply"`
	Retry     RetryCmd     `cmd:"" help:"Regenerate an assistant reply as a new variant"`
	Models    ModelsCmd    `cmd:"" help:"List or search enabled models"`
	Status    StatusCmd    `cmd:"" help:"Enable or disable a model"`
	Check     CheckCmd     `cmd:"" help:"Check provider connectivity"`
	History   HistoryCmd   `cmd:"" help:"Show conversations or one conversation's messages"`
	Search    SearchCmd    `cmd:"" help:"Search messages"`
	Export    ExportCmd    `cmd:"" help:"Export a conversation to a file"`
	Clear     ClearCmd     `cmd:"" help:"Delete every message of a conversation"`
	Title     TitleCmd     `cmd:"" help:"Generate a title for a conversation"`
	Providers ProvidersCmd `cmd:"" help:"List configured providers"`
	Use       UseCmd       `cmd:"" help:"Select the default provider and model"`
	Custom    CustomCmd    `cmd:"" help:"Manage custom models"`
	Edit      EditCmd      `cmd:"" help:"Replace the content of a message"`
	Rm        RmCmd        `cmd:"" help:"Delete a message"`
	Summarize SummarizeCmd `cmd:"" help:"Summarize text read from stdin"`
	Suggest   SuggestCmd   `cmd:"" help:"Suggest follow-up questions for a conversation"`
	Init      InitCmd      `cmd:"" help:"Write the default configuration files"`
}

// Keys of the values kept in the settings table.
const (
	settingCurrentProvider  = "currentProvider"
	settingCurrentModel     = "currentModel"
	settingLastConversation = "lastConversation"
)

// ModelFlags selects the provider and model of a generation.
type ModelFlags struct {
	Provider    string   `short:"p" help:"Provider id (default from config)"`
	Model       string   `short:"m" help:"Model id (default from config)"`
	Temperature *float64 `help:"Sampling temperature"`
	MaxTokens   int      `help:"Maximum output tokens"`
}

func (f ModelFlags) resolve(cfg *config.Config) (providerID, modelID string, err error) {
	providerID, modelID = f.Provider, f.Model
	if providerID == "" {
		providerID = cfg.DefaultProvider
	}
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	if providerID == "" || modelID == "" {
		return "", "", fmt.Errorf("no provider or model selected: pass --provider and --model or set [chat] default_provider and default_model")
	}
	return providerID, modelID, nil
}

func (f ModelFlags) options(cfg *config.Config) model.GenerateOptions {
	opts := model.GenerateOptions{Temperature: f.Temperature, MaxTokens: f.MaxTokens}
	if opts.Temperature == nil && cfg.Temperature > 0 {
		opts.Temperature = model.Temperature(cfg.Temperature)
	}
	return opts
}

// app holds the wired components for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *storage.DB
	bus     *events.Bus
	reg     *provider.Registry
	streams *stream.Orchestrator
	catalog *catalog.Catalog
	threads *thread.Manager
	chat    *chat.Service

	logCloser io.Closer
}

func newApp(ctx context.Context, cli *CLI) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cli.Debug {
		cfg.Debug = true
	}

	logger, closer := config.InitLogger(cfg.DataDir(), cfg.Debug)

	db, err := storage.Open(cfg.DataDir(), storage.WithLogger(logger))
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db, logCloser: closer}
	a.bus = events.New(events.WithLogger(logger))
	a.reg = provider.NewRegistryFromConfig(cfg, provider.WithLogger(logger))
	a.streams = stream.New(a.reg, a.bus,
		stream.WithLogger(logger),
		stream.WithMaxConcurrent(cfg.MaxConcurrentStreams))
	a.catalog = catalog.New(a.reg, db.Models(), a.bus, catalog.WithLogger(logger))
	a.threads = thread.NewManager(db.Messages(), a.bus, thread.WithLogger(logger))
	a.restoreCurrent(ctx)

	a.chat, err = chat.NewService(ctx, a.threads, a.streams, a.bus,
		chat.WithLogger(logger),
		chat.WithContextMessages(cfg.ContextMessages))
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug("chatdesk started",
		slog.String("data_dir", cfg.DataDir()),
		slog.Int("providers", len(a.reg.Providers())))
	return a, nil
}

// restoreCurrent applies the provider and model chosen with "use" over the
// config file defaults. Flags still win.
func (a *app) restoreCurrent(ctx context.Context) {
	settings := a.db.Settings()

	var providerID string
	if !settings.Get(ctx, settingCurrentProvider, &providerID) || providerID == "" {
		return
	}
	if err := a.reg.SetCurrent(ctx, providerID); err != nil {
		a.logger.Warn("saved provider unavailable", slog.String("provider", providerID), config.ErrAttr(err))
		return
	}
	a.cfg.DefaultProvider = providerID

	var modelID string
	if settings.Get(ctx, settingCurrentModel, &modelID) && modelID != "" {
		a.cfg.DefaultModel = modelID
	}
}

// Close stops running sessions and releases storage.
func (a *app) Close() {
	if a.chat != nil {
		a.chat.Close()
	}
	if err := a.streams.Close(context.Background()); err != nil {
		a.logger.Warn("failed to stop sessions", config.ErrAttr(err))
	}
	a.bus.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", config.ErrAttr(err))
	}
	a.logCloser.Close()
}
