package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/safeclaw/safeclaw/common/crypto"
	"github.com/safeclaw/safeclaw/common/environment"
	"github.com/safeclaw/safeclaw/common/version"
	"github.com/safeclaw/safeclaw/internal/safeclaw/app"
	"github.com/safeclaw/safeclaw/internal/safeclaw/observability"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)

	fmt.Printf("SafeClaw %s\n", version.Info())

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	observability.Protect(cfg.AccessToken)
	fmt.Printf("Storage: %s\n", cfg.StorageDir)
	fmt.Printf("Workspace: %s\n", cfg.WorkspaceDir)
	fmt.Println()

	if cfg.MasterKey == nil {
		slog.Warn("MASTER_KEY not set; provider credentials will be stored in plain text")
	}

	sc, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize SafeClaw: %v\n", err)
		os.Exit(1)
	}
	defer sc.Stop()

	if err := sc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running SafeClaw: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*app.Config, error) {
	owner, err := environment.RequiredString("OWNER_ID")
	if err != nil {
		return nil, err
	}
	token, err := environment.RequiredString("BOT_TOKEN")
	if err != nil {
		return nil, err
	}
	homeserver, err := environment.RequiredString("HOMESERVER_URL")
	if err != nil {
		return nil, err
	}

	storage := environment.StringOr("STORAGE_DIR", "")
	if storage == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home for default STORAGE_DIR: %w", err)
		}
		storage = filepath.Join(home, ".safeclaw")
	}
	workspace := environment.StringOr("WORKSPACE_DIR", "")
	if workspace == "" {
		workspace = filepath.Join(storage, "workspace")
	}

	var masterKey []byte
	if raw := os.Getenv("MASTER_KEY"); raw != "" {
		masterKey, err = crypto.ParseMasterKey(raw)
		if err != nil {
			return nil, fmt.Errorf("MASTER_KEY: %w", err)
		}
	}

	return &app.Config{
		Homeserver:   homeserver,
		AccessToken:  token,
		BotUserID:    environment.StringOr("BOT_USER_ID", ""),
		OwnerID:      owner,
		StorageDir:   storage,
		WorkspaceDir: workspace,
		MasterKey:    masterKey,
		Inactivity:   time.Duration(environment.IntOr("INACTIVITY_TIMEOUT_MINUTES", 30)) * time.Minute,
		ApprovalTTL:  time.Duration(environment.IntOr("APPROVAL_TIMEOUT_MINUTES", 5)) * time.Minute,
		HTTPAddr:     environment.StringOr("HTTP_ADDR", ""),
	}, nil
}
