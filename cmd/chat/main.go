// Cohe Chat terminal client.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashureev/cohe-chat/internal/chat"
	"github.com/ashureev/cohe-chat/internal/cli"
	"github.com/ashureev/cohe-chat/internal/clipboard"
	"github.com/ashureev/cohe-chat/internal/completion"
	"github.com/ashureev/cohe-chat/internal/config"
	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/session"
	"github.com/ashureev/cohe-chat/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// stdout belongs to the conversation; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	translator, err := i18n.New(cfg.Locale)
	if err != nil {
		slog.Error("Failed to load translations", "error", err)
		os.Exit(1)
	}

	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open history database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close history database", "error", err)
		}
	}()

	manager := session.NewManager(store.NewSessionStore(db, logger), session.WithLogger(logger))
	manager.Initialize(ctx)

	// No client timeout: replies stream for as long as the server keeps writing.
	httpClient := &http.Client{}
	var transport completion.Transport
	if cfg.Transport == config.TransportWS {
		transport = completion.NewWSTransport(cfg.APIURL, httpClient, logger)
	} else {
		transport = completion.NewHTTPTransport(cfg.APIURL, httpClient, logger)
	}

	repl := cli.New(manager, translator, clipboard.NewOSC52(os.Stdout), os.Stdout)
	ctrl := chat.NewController(manager, transport,
		chat.WithMaxChars(cfg.MaxPromptChars),
		chat.WithPersistPolicy(chat.PersistPolicy(cfg.PersistPolicy)),
		chat.WithObserver(repl.Observe),
		chat.WithLogger(logger),
	)

	if err := repl.Run(ctx, ctrl, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Chat client failed", "error", err)
		os.Exit(1)
	}
}
