// Package app assembles SafeClaw: storage, sandbox, tool runner, gateway,
// command routing and the Matrix transport, wired together and supervised
// until shutdown.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/safeclaw/safeclaw/common/trace"
	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
	"github.com/safeclaw/safeclaw/internal/safeclaw/audit"
	"github.com/safeclaw/safeclaw/internal/safeclaw/commands"
	"github.com/safeclaw/safeclaw/internal/safeclaw/gateway"
	"github.com/safeclaw/safeclaw/internal/safeclaw/matrix"
	"github.com/safeclaw/safeclaw/internal/safeclaw/memstore"
	"github.com/safeclaw/safeclaw/internal/safeclaw/observability"
	"github.com/safeclaw/safeclaw/internal/safeclaw/procs"
	"github.com/safeclaw/safeclaw/internal/safeclaw/providerstore"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/secretguard"
	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
	"github.com/safeclaw/safeclaw/internal/safeclaw/tools"
	"github.com/safeclaw/safeclaw/internal/safeclaw/workspace"
)

// typingTimeout caps how long a single typing notification stays visible if
// the clearing call is lost.
const typingTimeout = 2 * time.Minute

// Config is the assembled runtime configuration.
type Config struct {
	Homeserver  string
	AccessToken string
	// BotUserID may be empty; the transport then resolves it from the
	// access token at startup.
	BotUserID string
	OwnerID   string

	StorageDir   string
	WorkspaceDir string

	// MasterKey encrypts provider credentials at rest. Nil means plaintext.
	MasterKey []byte

	Inactivity  time.Duration
	ApprovalTTL time.Duration

	// HTTPAddr enables the health/status endpoint when non-empty.
	HTTPAddr string
}

// App owns the assembled subsystems.
type App struct {
	cfg      *Config
	matrix   *matrix.Client
	gateway  *gateway.Gateway
	handlers *commands.Handlers
	audit    *audit.Logger
	procs    *procs.Registry
	health   *HealthServer

	// lastRoom is the room the owner most recently spoke in; unsolicited
	// notices (auto-sleep, audit mirror) go there.
	lastRoom atomic.Value
}

// New builds the full object graph. Nothing talks to the network yet; that
// starts in Run.
func New(cfg *Config) (*App, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = cfg.StorageDir
	}
	wsDir := cfg.WorkspaceDir
	if wsDir == "" {
		wsDir = filepath.Join(cfg.StorageDir, "workspace")
	}

	ws, err := workspace.New(wsDir, home)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	guard := secretguard.New(cfg.StorageDir, home)
	pr := procs.New(procs.Config{})

	mem, err := memstore.Open(filepath.Join(cfg.StorageDir, "memory.json"))
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	log, err := audit.NewLogger(filepath.Join(cfg.StorageDir, "audit.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	creds, err := providerstore.Open(filepath.Join(cfg.StorageDir, "auth.json"), cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	for _, name := range creds.Configured() {
		if key, err := creds.Credential(name); err == nil {
			observability.Protect(key)
		}
	}

	runner := tools.New(ws, guard, pr, mem)
	sk, err := skills.NewManager(filepath.Join(cfg.StorageDir, "skills"), runner)
	if err != nil {
		return nil, fmt.Errorf("skill manager: %w", err)
	}

	mxc, err := matrix.New(&matrix.Config{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.BotUserID,
		AccessToken: cfg.AccessToken,
		OwnerID:     cfg.OwnerID,
		DBPath:      filepath.Join(cfg.StorageDir, "safeclaw.db"),
		Audit:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}

	a := &App{
		cfg:    cfg,
		matrix: mxc,
		audit:  log,
		procs:  pr,
	}

	reg := registry.New()
	a.gateway = gateway.New(gateway.Config{
		Registry:   reg,
		Approvals:  approvals.NewStore(cfg.ApprovalTTL),
		Runner:     runner,
		Skills:     sk,
		Procs:      pr,
		Audit:      log,
		Creds:      creds,
		StorageDir: cfg.StorageDir,
		Inactivity: cfg.Inactivity,
		Notify:     a.notifyOwner,
	})
	a.handlers = commands.NewHandlers(a.gateway, reg, creds, log, sk)

	log.SetNotifier(auditNotifier{a})

	if cfg.HTTPAddr != "" {
		a.health = NewHealthServer(cfg.HTTPAddr, a.gateway)
	}

	return a, nil
}

// Run starts the transport and blocks until the owner kills the gateway or
// the process receives SIGINT/SIGTERM. A signal is treated exactly like
// /kill: full teardown, then exit.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting matrix sync", "homeserver", a.cfg.Homeserver)
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("start matrix client: %w", err)
	}

	slog.Info("safeclaw is running, dormant until /wake", "owner", a.cfg.OwnerID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", "signal", sig.String())
		if farewell := a.gateway.Kill(context.Background()); farewell != "" {
			a.notifyOwner(context.Background(), farewell)
		}
	case <-a.gateway.Done():
		slog.Info("gateway shut down by owner")
	}
	return nil
}

// Stop releases everything Run started.
func (a *App) Stop() {
	slog.Info("stopping matrix client")
	a.matrix.Stop()
	if a.health != nil {
		a.health.Stop()
	}
	a.procs.Close()
	if err := a.audit.Close(); err != nil {
		slog.Warn("close audit log", "err", err)
	}
}

// handleMessage processes one owner message. The transport has already
// dropped everyone else.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	text := strings.TrimSpace(evt.Content.AsMessage().Body)
	if text == "" {
		return
	}

	// Every turn gets its own trace ID so log lines for one exchange can
	// be correlated.
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := observability.WithTrace(ctx)

	room := evt.RoomID.String()
	a.lastRoom.Store(room)

	reply, handled := a.handlers.Handle(ctx, text)
	if !handled {
		// Free text enters the agent loop, which can take a while.
		typing := a.gateway.State() != gateway.StateDormant
		if typing {
			if err := a.matrix.SetTyping(room, true, typingTimeout); err != nil {
				log.Debug("set typing", "err", err)
			}
		}
		reply = a.gateway.HandleText(ctx, text)
		if typing {
			if err := a.matrix.SetTyping(room, false, 0); err != nil {
				log.Debug("clear typing", "err", err)
			}
		}
	}
	if reply == "" {
		return
	}
	if err := a.matrix.SendMarkdown(room, reply); err != nil {
		log.Error("send reply", "room", room, "err", err)
	}
}

// notifyOwner pushes an unsolicited message to wherever the owner last
// spoke. Before the first owner message there is nowhere to deliver.
func (a *App) notifyOwner(_ context.Context, text string) {
	room, _ := a.lastRoom.Load().(string)
	if room == "" {
		return
	}
	if err := a.matrix.SendMarkdown(room, text); err != nil {
		slog.Warn("owner notification failed", "room", room, "err", err)
	}
}

// auditNotifier mirrors significant audit events to the owner room as
// notices when /audit verbose is on.
type auditNotifier struct{ app *App }

func (n auditNotifier) Notify(_ context.Context, e audit.Event) {
	room, _ := n.app.lastRoom.Load().(string)
	if room == "" {
		return
	}
	line := fmt.Sprintf("%s %s", audit.Icon(e.Type), e.Type)
	if len(e.Details) > 0 {
		if data, err := json.Marshal(e.Details); err == nil {
			line += " " + string(data)
		}
	}
	if err := n.app.matrix.SendNotice(room, line); err != nil {
		slog.Debug("audit mirror failed", "err", err)
	}
}
