package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/samsaffron/noma/internal/config"
	"github.com/samsaffron/noma/internal/debuglog"
	"github.com/samsaffron/noma/internal/engine"
	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/mcp"
	"github.com/samsaffron/noma/internal/session"
	"github.com/samsaffron/noma/internal/tools"
)

// agentOptions are the per-command choices layered over the config.
type agentOptions struct {
	// resume continues a stored session: resumeID, or the current one.
	resume       bool
	resumeID     string
	approvalMode string
	noSession    bool
	noTools      bool
}

// agent is everything one CLI invocation needs to run prompts.
type agent struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    *engine.Client
	scheduler *engine.Scheduler
	mcp       *mcp.Manager
	store     session.Store
	debugLog  *debuglog.Logger
	session   *session.Session
}

// newAgent wires backend, tools, persistence and the engine together. ctx
// bounds the MCP server processes.
func newAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts agentOptions) (*agent, error) {
	gen, err := llm.NewGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &agent{cfg: cfg, logger: logger}

	registry := tools.NewRegistry()
	if !opts.noTools {
		registry, err = tools.NewBuiltinRegistry(tools.NewToolConfigFromFields(
			cfg.Tools.Enabled, cfg.Tools.AllowedCommands, cfg.Tools.AllowedPaths))
		if err != nil {
			return nil, fmt.Errorf("tools: %w", err)
		}
		if len(cfg.MCP.Servers) > 0 {
			a.mcp = mcp.NewManager(cfg.MCP.Servers, logger)
			a.mcp.StartAll(ctx)
			if err := a.mcp.Register(registry); err != nil {
				logger.Warn("some MCP tools were not registered", "error", err)
			}
		}
	}

	store, err := openStore(cfg, opts.noSession)
	if err != nil {
		logger.Warn("session storage unavailable", "error", err)
		store = &session.NoopStore{}
	}
	a.store = session.NewLoggingStore(store, logger)

	history, err := a.openSession(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Debug {
		if dir, err := debuglog.DefaultDir(); err == nil {
			if a.debugLog, err = debuglog.NewLogger(dir, a.session.ID); err != nil {
				logger.Warn("debug log unavailable", "error", err)
			}
		}
		cwd, _ := os.Getwd()
		args := os.Args[1:]
		command := ""
		if len(args) > 0 {
			command, args = args[0], args[1:]
		}
		a.debugLog.LogSessionStart(command, args, cwd)
	}

	mode := cfg.ApprovalMode
	if opts.approvalMode != "" {
		mode = opts.approvalMode
	}
	a.scheduler = engine.NewScheduler(registry, engine.SchedulerOptions{
		ApprovalMode:   tools.ApprovalMode(mode),
		ConfirmTimeout: cfg.Scheduler.ConfirmTimeout,
		ExecuteTimeout: cfg.Scheduler.ExecuteTimeout,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		Logger:         logger,
	})

	chat := engine.NewChat(gen, cfg.ActiveModel(), llm.GenerateConfigFrom(cfg.Generation), history)
	chat.SetTools(registry.Declarations())

	clientOpts := engine.ClientOptions{
		Provider:        cfg.Provider,
		MaxSessionTurns: cfg.MaxSessionTurns,
		LoopDetection:   cfg.LoopDetection,
		Scheduler:       a.scheduler,
		Reporter:        engine.NewFileReporter("", logger),
		Logger:          logger,
		DebugLog:        a.debugLog,
		Store:           a.store,
		SessionID:       a.session.ID,
	}
	// a nil *SummaryCompressor must not become a non-nil interface
	if c := engine.NewSummaryCompressor(cfg.Compression.TokenLimit, cfg.Compression.Threshold, cfg.Compression.KeepRecent, logger); c != nil {
		clientOpts.Compressor = c
	}
	a.client = engine.NewClient(chat, clientOpts)
	return a, nil
}

func openStore(cfg *config.Config, disabled bool) (session.Store, error) {
	sc := session.ConfigFrom(cfg.Session)
	if disabled {
		sc.Enabled = false
	}
	return session.NewStore(sc)
}

// openSession resumes a stored session or creates a new one, and returns the
// history to start from.
func (a *agent) openSession(ctx context.Context, opts agentOptions) ([]llm.Content, error) {
	if opts.resume {
		sess, err := a.resolveSession(ctx, opts.resumeID)
		if err != nil {
			return nil, err
		}
		msgs, err := a.store.GetMessages(ctx, sess.ID, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sess.ID, err)
		}
		a.session = sess
		_ = a.store.SetCurrent(ctx, sess.ID)
		return session.Contents(msgs), nil
	}

	cwd, _ := os.Getwd()
	a.session = &session.Session{
		ID:       session.NewID(),
		Provider: a.cfg.Provider,
		Model:    a.cfg.ActiveModel(),
		CWD:      cwd,
		Status:   session.StatusActive,
	}
	if err := a.store.Create(ctx, a.session); err == nil {
		_ = a.store.SetCurrent(ctx, a.session.ID)
	}
	return nil, nil
}

func (a *agent) resolveSession(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		sess, err := a.store.GetCurrent(ctx)
		if err != nil {
			return nil, fmt.Errorf("find current session: %w", err)
		}
		if sess == nil {
			return nil, errors.New("no session to resume")
		}
		return sess, nil
	}
	sess, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session '%s' not found", id)
	}
	return sess, nil
}

// prompt runs one user prompt through the agentic loop.
func (a *agent) prompt(ctx context.Context, text string, sink func(engine.Event)) error {
	promptID := uuid.NewString()

	if a.session.Summary == "" {
		a.session.Summary = session.TruncateSummary(text)
		_ = a.store.Update(ctx, a.session)
	}
	return a.client.Run(ctx, []llm.Part{llm.NewTextPart(text)}, promptID, sink)
}

// Close stops MCP servers and flushes logs and storage.
func (a *agent) Close() {
	if a.mcp != nil {
		if err := a.mcp.StopAll(); err != nil {
			a.logger.Debug("stopping MCP servers", "error", err)
		}
	}
	_ = a.debugLog.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
}
