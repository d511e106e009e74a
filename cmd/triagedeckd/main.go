package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiPkg "github.com/triagedeck-io/triagedeck/internal/api"
	"github.com/triagedeck-io/triagedeck/internal/backend"
	"github.com/triagedeck-io/triagedeck/internal/config"
	"github.com/triagedeck-io/triagedeck/internal/engine"
	"github.com/triagedeck-io/triagedeck/internal/logbuf"
	"github.com/triagedeck-io/triagedeck/internal/notify"
	"github.com/triagedeck-io/triagedeck/internal/poller"
	"github.com/triagedeck-io/triagedeck/internal/stream"
	"github.com/triagedeck-io/triagedeck/internal/timeline"
	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logRing := logbuf.NewRing(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logRing))

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("triagedeckd starting", "backend", cfg.Backend.BaseURL, "stream", cfg.Stream.URL)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Backend client + engine
	client := backend.New(cfg.Backend.BaseURL, logger.With("component", "backend"))
	eng := engine.New(client, logger.With("component", "engine"))

	// 2. Outbound alert channels
	var targets []notify.Notifier
	if cfg.Notify.Slack != nil {
		sl, err := notify.NewSlack(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel, logger.With("notifier", "slack"))
		if err != nil {
			logger.Error("failed to init slack notifier", "error", err)
			os.Exit(1)
		}
		targets = append(targets, sl)
	}
	if cfg.Notify.Telegram != nil {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger.With("notifier", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram notifier", "error", err)
			os.Exit(1)
		}
		targets = append(targets, tg)
	}
	alerts := notify.NewFanout(logger.With("component", "notify"), targets...)
	if alerts.Len() > 0 {
		logger.Info("alert channels configured", "channels", alerts.Len())
	}

	// 3. Event stream
	streamMgr := &stream.Manager{
		URL:        cfg.Stream.URL,
		RetryDelay: time.Duration(cfg.Stream.RetryDelaySeconds) * time.Second,
		MaxRetries: cfg.Stream.MaxRetries,
		Logger:     logger.With("component", "stream"),
	}
	streamMgr.Handler = func(ev protocol.Event) {
		eng.Apply(ev)
		switch ev := ev.(type) {
		case *protocol.SpamAlert:
			alerts.Notify(ctx, notify.Alert{
				Title:  "Suspicious email blocked",
				Detail: fmt.Sprintf("%s (sender %s)", ev.Message, ev.Sender),
			})
		case *protocol.EmailDetected:
			if !ev.ValidDomain() {
				alerts.Notify(ctx, notify.Alert{
					Title:  "Unauthorized sender domain",
					Detail: fmt.Sprintf("%q from %s", ev.Subject, ev.Sender),
				})
			}
		}
	}
	go safeGo(logger, "stream", func() {
		err := streamMgr.Run(ctx)
		if errors.Is(err, stream.ErrRetriesExhausted) {
			logger.Error("event stream failed permanently", "url", cfg.Stream.URL)
			alerts.Notify(context.Background(), notify.Alert{
				Title:  "Event stream down",
				Detail: "Reconnect retries exhausted; live updates stopped. Restart triagedeckd to resume.",
			})
		}
	})
	logger.Info("event stream started", "url", cfg.Stream.URL)

	// 4. Ticket snapshot poller
	pol := poller.New(client,
		time.Duration(cfg.Poll.IntervalSeconds)*time.Second,
		eng.ApplyTicketSnapshot,
		logger.With("component", "poller"))
	go safeGo(logger, "poller", func() { pol.Start(ctx) })

	// 5. Start API server
	apiSvc := &deckServiceAdapter{eng: eng, client: client, stream: streamMgr}
	apiSrv := apiPkg.NewServer(apiSvc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logRing)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("triagedeckd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// deckServiceAdapter implements api.DeckService over the engine, backend
// client, and stream manager.
type deckServiceAdapter struct {
	eng    *engine.Engine
	client *backend.Client
	stream *stream.Manager
}

func (d *deckServiceAdapter) State(ctx context.Context) apiPkg.StateInfo {
	status, sessionID := d.eng.AgentState()
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, probeErr := d.client.Status(probeCtx)
	return apiPkg.StateInfo{
		AgentStatus: string(status),
		SessionID:   sessionID,
		StreamState: string(d.stream.State()),
		BackendUp:   probeErr == nil,
	}
}

func (d *deckServiceAdapter) Timelines() []timeline.Entry {
	return d.eng.Timelines()
}

func (d *deckServiceAdapter) Timeline(emailID string) (timeline.Entry, bool) {
	return d.eng.Timeline(emailID)
}

func (d *deckServiceAdapter) Dismiss(emailID string) bool {
	return d.eng.Dismiss(emailID)
}

func (d *deckServiceAdapter) Tickets() []protocol.Ticket {
	return d.eng.Tickets()
}

func (d *deckServiceAdapter) Ticket(ticketID string) (protocol.Ticket, bool) {
	return d.eng.Ticket(ticketID)
}

func (d *deckServiceAdapter) TicketsByType(ctx context.Context, requestType string) ([]protocol.Ticket, error) {
	return d.client.FetchTicketsByType(ctx, requestType)
}

func (d *deckServiceAdapter) RequestTypes(ctx context.Context) ([]string, error) {
	return d.client.RequestTypes(ctx)
}

func (d *deckServiceAdapter) StartAgent(ctx context.Context) error {
	return d.eng.StartAgent(ctx)
}

func (d *deckServiceAdapter) StopAgent(ctx context.Context) error {
	return d.eng.StopAgent(ctx)
}

func (d *deckServiceAdapter) SubmitRequest(ctx context.Context, request string) string {
	return d.eng.SubmitAdminRequest(ctx, request)
}
