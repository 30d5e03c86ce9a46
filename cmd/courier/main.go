// Courier connects chat platforms to application handlers: adapters
// normalize platform events into the canonical model, the dispatcher
// routes them under dedup/lock/priority rules, and replies flow back
// through the same adapters.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/courierbot/courier/pkg/channels"
	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/config"
	"github.com/courierbot/courier/pkg/dispatch"
	"github.com/courierbot/courier/pkg/eventbus"
	"github.com/courierbot/courier/pkg/statestore"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, cleanup, err := buildBackend(cfg.Store, log)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	bus := eventbus.New()
	bus.Subscribe(eventbus.HandlerFailed, func(ev eventbus.Event) {
		log.Warn().Str("adapter", ev.Adapter).Str("thread_id", ev.ThreadID).Msgf("handler failed: %v", ev.Data)
	})

	opts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithLifecycleBus(bus),
		dispatch.WithDedupTTL(cfg.Dispatcher.DedupTTL.Std()),
	}
	if backend != nil {
		opts = append(opts, dispatch.WithBackend(backend))
	}

	var queue *dispatch.Queue
	if cfg.Dispatcher.Queued {
		queue = dispatch.NewQueue(cfg.Dispatcher.QueueName, cfg.Dispatcher.QueueCapacity)
		opts = append(opts, dispatch.WithExecutor(dispatch.NewQueueExecutor(queue, bus)))
	}

	d := dispatch.New(opts...)

	if queue != nil {
		for i := 0; i < cfg.Dispatcher.Workers; i++ {
			go dispatch.NewWorker(d, queue).Run(ctx)
		}
		defer queue.Close()
	}

	registerHandlers(d)

	manager := channels.NewManager(log)
	if cfg.Console.Enabled {
		manager.Add(channels.NewConsole(d, log))
	}
	if cfg.Slack.Enabled {
		manager.Add(channels.NewSlack(cfg.Slack.BotToken, cfg.Slack.AppToken, d, log))
	}
	if cfg.Discord.Enabled {
		dc, err := channels.NewDiscord(cfg.Discord.Token, d, log)
		if err != nil {
			return err
		}
		manager.Add(dc)
	}
	if cfg.Telegram.Enabled {
		tg, err := channels.NewTelegram(cfg.Telegram.Token, d, log)
		if err != nil {
			return err
		}
		manager.Add(tg)
	}
	for _, r := range manager.Runners() {
		d.RegisterAdapter(r)
	}

	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	defer manager.StopAll()

	log.Info().Msg("courier running, ctrl-c to exit")
	<-ctx.Done()
	return nil
}

func buildLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("config: unknown log level %q", cfg.Level)
	}
	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}

func buildBackend(cfg config.StoreConfig, log zerolog.Logger) (chat.StateBackend, func(), error) {
	switch cfg.Driver {
	case "":
		return nil, nil, nil
	case "memory":
		return statestore.NewMemoryStore(), nil, nil
	case "file":
		fs, err := statestore.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	case "sqlite":
		db, err := statestore.NewSQLiteStore(cfg.Path, cfg.JanitorSchedule, statestore.WithSQLiteLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown store driver %q", cfg.Driver)
	}
}

// registerHandlers wires the built-in demo behavior: ping/pong, mention
// greeting and subscription management via slash commands.
func registerHandlers(d *dispatch.Dispatcher) {
	d.OnNewMention(func(ctx context.Context, thread *chat.Thread, msg *chat.Message) error {
		_, err := thread.PostText(ctx, "Hi "+msg.Author.UserName+"! Use /subscribe to get every message in this thread.")
		return err
	})

	d.OnSubscribedMessage(func(ctx context.Context, thread *chat.Thread, msg *chat.Message) error {
		_, err := thread.PostText(ctx, "heard: "+msg.Text)
		return err
	})

	d.OnNewMessage(regexp.MustCompile(`(?i)\bping\b`), func(ctx context.Context, thread *chat.Thread, _ *chat.Message) error {
		_, err := thread.PostText(ctx, "pong")
		return err
	})

	d.OnSlashCommand(dispatch.ID("subscribe"), func(ctx context.Context, ev *dispatch.SlashCommandEvent) error {
		if ev.Thread == nil {
			return nil
		}
		if err := ev.Thread.Subscribe(ctx); err != nil {
			return err
		}
		_, err := ev.Thread.PostText(ctx, "subscribed to this thread")
		return err
	})

	d.OnSlashCommand(dispatch.ID("unsubscribe"), func(ctx context.Context, ev *dispatch.SlashCommandEvent) error {
		if ev.Thread == nil {
			return nil
		}
		if err := ev.Thread.Unsubscribe(ctx); err != nil {
			return err
		}
		_, err := ev.Thread.PostText(ctx, "unsubscribed")
		return err
	})
}
