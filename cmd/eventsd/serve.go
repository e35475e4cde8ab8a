package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/technosupport/ts-events/internal/api"
	"github.com/technosupport/ts-events/internal/config"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/debounce"
	"github.com/technosupport/ts-events/internal/describe"
	"github.com/technosupport/ts-events/internal/ingest"
	"github.com/technosupport/ts-events/internal/logging"
	"github.com/technosupport/ts-events/internal/metrics"
	"github.com/technosupport/ts-events/internal/middleware"
	"github.com/technosupport/ts-events/internal/notify"
	"github.com/technosupport/ts-events/internal/pipeline"
	"github.com/technosupport/ts-events/internal/ratelimit"
	"github.com/technosupport/ts-events/internal/realtime"
	"github.com/technosupport/ts-events/internal/rules"
	"github.com/technosupport/ts-events/internal/webhook"
)

const shutdownTimeout = 20 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event pipeline and its HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	models := data.NewModels(db)

	// Redis is optional. Without it cooldowns, quotas and rate limits are per process.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, shared state will fail open")
		}
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name("ts-events"), nats.MaxReconnects(-1))
		if err != nil {
			log.Warn().Err(err).Msg("NATS connect failed, NVR ingest and NATS publishing disabled")
			nc = nil
		} else {
			defer nc.Drain()
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	var mc mqtt.Client
	if cfg.MQTT.Broker != "" {
		mc, err = connectMQTT(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT connect failed, Frigate ingest and MQTT publishing disabled")
			mc = nil
		} else {
			defer mc.Disconnect(250)
		}
	}

	// Cameras
	cameras, err := loadCameras(ctx, cfg, models.Cameras)
	if err != nil {
		return err
	}

	// Description generator
	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return err
	}
	var usage describe.UsageTracker = describe.NewMemoryUsage()
	if rdb != nil {
		usage = describe.NewRedisUsage(ratelimit.NewLimiter(rdb, cfg.Redis.Prefix+":quota"))
	}
	generator := describe.NewGenerator(
		describe.Preprocessor{TargetDimension: cfg.Preprocess.TargetDimension, MaxFrames: cfg.Preprocess.MaxFrames},
		usage,
		providers...,
	)

	// Rules
	var source rules.Source
	switch cfg.Rules.Source {
	case "file":
		fs, err := rules.NewFileSource(cfg.Rules.File)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		go fs.Watch(ctx)
		source = fs
	default:
		source = rules.NewDBSource(models.Rules, cfg.Rules.CacheTTL)
	}
	var tracker rules.Tracker = rules.NewMemoryTracker(0)
	if rdb != nil {
		tracker = rules.NewRedisTracker(rdb, cfg.Redis.Prefix+":rules")
	}
	evaluator := rules.NewEvaluator(source, tracker, models.Rules)

	// Realtime fan-out
	hub := realtime.NewHub()
	defer hub.Close()
	publishers := realtime.Fanout{hub}
	var push notify.PushSender
	if nc != nil {
		publishers = append(publishers, realtime.NewNATSPublisher(nc, cfg.NATS.RealtimePrefix, 3))
		push = notify.NewNATSPush(nc, cfg.NATS.PushSubject, 3)
	}
	if mc != nil {
		publishers = append(publishers, realtime.NewMQTTPublisher(mc, cfg.MQTT.RealtimePrefix, 1))
	}

	deliverer := webhook.NewDeliverer(webhook.Config{Timeout: cfg.Webhook.Timeout, MaxAttempts: cfg.Webhook.MaxAttempts}, models.Deliveries, nil)
	dispatcher := notify.NewDispatcher(notify.Config{
		MaxConcurrentWebhooks: cfg.Webhook.MaxConcurrent,
		DeepLinkBase:          cfg.HTTP.PublicURL + "/events",
	}, publishers, push, deliverer)

	pipe := pipeline.New(pipeline.Config{
		Workers:            cfg.Pipeline.Workers,
		QueueSize:          cfg.Pipeline.QueueSize,
		PublicURL:          cfg.HTTP.PublicURL,
		ThumbnailCacheSize: cfg.Pipeline.ThumbnailCacheSize,
	}, pipeline.Deps{
		Cameras:    cameras,
		Debouncer:  debounce.New(cameras, cfg.Pipeline.MaxCameras),
		Describer:  generator,
		Store:      models.Events,
		Evaluator:  evaluator,
		Dispatcher: dispatcher,
		Publisher:  publishers,
	})
	pipe.Start()

	// Trigger sources
	if nc != nil {
		snaps := ingest.NewSnapshotClient(cfg.NATS.SnapshotBase, 10*time.Second)
		vms := ingest.NewVMSHandler(pipe, snaps, 10000, 5*time.Minute)
		sub, err := ingest.SubscribeNATS(nc, cfg.NATS.VMSSubject, cfg.NATS.Queue, vms, 15*time.Second)
		if err != nil {
			log.Error().Err(err).Str("subject", cfg.NATS.VMSSubject).Msg("NVR event subscription failed")
		} else {
			defer sub.Unsubscribe()
		}
	}
	if mc != nil && cfg.MQTT.FrigateURL != "" {
		snaps := ingest.NewSnapshotClient(cfg.MQTT.FrigateURL, 10*time.Second)
		frigate := ingest.NewFrigateHandler(pipe, snaps, cfg.MQTT.FrigateCameras)
		if err := ingest.SubscribeMQTT(mc, cfg.MQTT.FrigateTopic, frigate, 15*time.Second); err != nil {
			log.Error().Err(err).Str("topic", cfg.MQTT.FrigateTopic).Msg("Frigate subscription failed")
		}
	}

	// HTTP
	handler := &api.Handler{
		Pipeline:   pipe,
		Events:     models.Events,
		Deliveries: models.Deliveries,
		Rules:      evaluator,
		Cameras:    cameras,
		DB:         db,
		WS:         hub.ServeWS,
	}
	if rdb != nil {
		handler.AnalyzeLimit = middleware.NewRateLimitMiddleware(
			ratelimit.NewLimiter(rdb, cfg.Redis.Prefix+":rl"), "analyze", cfg.HTTP.AnalyzeLimit)
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	collector := metrics.NewCollector(metrics.CollectorConfig{
		Probes: probes(db, rdb, nc, mc),
		State: func(ctx context.Context) metrics.State {
			st := metrics.State{Inflight: pipe.Inflight(), ThumbnailsCached: pipe.Thumbnails().Len()}
			for _, c := range cameras.All() {
				st.CamerasTotal++
				if c.Enabled {
					st.CamerasEnabled++
				}
			}
			if rs, err := source.Rules(ctx); err == nil {
				st.RulesLoaded = len(rs)
			}
			return st
		},
	}, prometheus.DefaultRegisterer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		collector.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Strs("providers", generator.Providers()).Msg("eventsd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := pipe.Stop(sctx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline stop: %w", err))
		}
		if err := dispatcher.Close(sctx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher close: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("eventsd stopped with errors")
		return err
	}
	log.Info().Msg("eventsd stopped")
	return nil
}

func probes(db *sql.DB, rdb *redis.Client, nc *nats.Conn, mc mqtt.Client) map[string]metrics.Probe {
	p := map[string]metrics.Probe{"database": db.PingContext}
	if rdb != nil {
		p["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if nc != nil {
		p["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}
	if mc != nil {
		p["mqtt"] = func(context.Context) error {
			if !mc.IsConnectionOpen() {
				return errors.New("mqtt connection not open")
			}
			return nil
		}
	}
	return p
}

func connectMQTT(c config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetUsername(c.User).
		SetPassword(c.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", c.Broker).Msg("connected to MQTT")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", c.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect %s: timeout", c.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.Broker, err)
	}
	return client, nil
}

func buildProviders(pcs []config.ProviderConfig) ([]describe.ProviderConfig, error) {
	out := make([]describe.ProviderConfig, 0, len(pcs))
	for _, pc := range pcs {
		p, err := describe.NewProvider(describe.ProviderKind(pc.Kind), describe.HTTPConfig{
			Name:      pc.Name,
			BaseURL:   pc.BaseURL,
			Model:     pc.Model,
			APIKey:    pc.APIKey,
			MaxTokens: pc.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		if pc.APIKey == "" {
			log.Warn().Str("provider", pc.Name).Msg("provider has no API key")
		}
		out = append(out, describe.ProviderConfig{
			Provider: p,
			Timeout:  pc.Timeout,
			Attempts: pc.Attempts,
			Quota:    describe.Quota{Limit: pc.Quota.Limit, Period: pc.Quota.Period, Reserve: pc.Quota.Reserve},
		})
	}
	return out, nil
}
