package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"wirecdc/internal/checkpoint"
	"wirecdc/internal/codec"
	"wirecdc/internal/config"
	"wirecdc/internal/engine"
	"wirecdc/internal/health"
	"wirecdc/internal/logging"
	"wirecdc/internal/parser"
	"wirecdc/internal/publisher"
	"wirecdc/internal/schema"
	"wirecdc/internal/wal"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Enable block and mutex profiling for contention analysis
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	health.Start(ctx, cfg.HealthAddr, logger)
	logger.Info("prometheus metrics available", zap.String("endpoint", cfg.HealthAddr+"/metrics"))

	tableFilter := buildTableFilter(cfg.TableFilters)
	parse, registry := buildParser(cfg, tableFilter, logger)

	slotCfg := wal.SlotConfig{
		SlotName:     cfg.SlotName,
		Plugin:       cfg.Plugin,
		DatabaseURL:  cfg.DatabaseURL,
		Publications: cfg.Publications,
		TableFilter:  tableFilter,
	}
	// Relation IDs are not stable across replication sessions, so cached
	// schema must be dropped whenever the stream restarts.
	if resetter, ok := parse.(parser.SessionResetter); ok {
		slotCfg.OnSessionStart = resetter.ResetSession
	}

	if cfg.AutoProvision {
		if err := wal.NewAdmin(slotCfg, logger).EnsurePrerequisites(ctx); err != nil {
			logger.Error("provisioning failed", zap.Error(err))
			os.Exit(1)
		}
	}

	reader := wal.NewPGReader(slotCfg, cfg.RawMessageBufferSize, logger)

	encoder, err := codec.ForFormat(cfg.Encoding)
	if err != nil {
		logger.Error("invalid encoding", zap.Error(err))
		os.Exit(1)
	}
	pub := buildPublisher(cfg, logger)
	store, cleanup := newCheckpointStore(cfg, logger)
	defer cleanup()
	ckpt := checkpoint.NewManager(store, cfg.CheckpointFreq, logger)

	health.SetStatusProvider(func() map[string]interface{} {
		status := map[string]interface{}{
			"last_checkpoint": ckpt.LastFlushed().LSN.String(),
		}
		if registry != nil {
			relations, types := registry.Sizes()
			status["relations_cached"] = relations
			status["types_cached"] = types
		}
		return status
	})

	logger.Info("starting wirecdc",
		zap.Bool("debug", cfg.Debug),
		zap.String("slot", cfg.SlotName),
		zap.Strings("publications", cfg.Publications),
		zap.String("db", cfg.Database),
		zap.String("plugin", cfg.Plugin),
		zap.String("sink", cfg.Sink),
		zap.String("encoding", cfg.Encoding),
		zap.Int("raw_buffer", cfg.RawMessageBufferSize),
		zap.Int("parsed_buffer", cfg.ParsedEventBufferSize))

	eng := engine.New(engine.Options{
		Reader:       reader,
		Parser:       parse,
		Encoder:      encoder,
		Publisher:    pub,
		Checkpointer: ckpt,
		Database:     cfg.Database,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Logger:       logger,
	})

	startPos, err := store.Load(ctx)
	if err != nil {
		logger.Warn("failed to load checkpoint, starting from earliest", zap.Error(err))
	}

	if err := eng.Run(ctx, startPos); err != nil {
		logger.Error("cdc engine stopped", zap.Error(err))
		os.Exit(1)
	}
}

// buildParser returns the parser for the configured plugin, plus the schema
// registry when the plugin maintains one (pgoutput only).
func buildParser(cfg config.Config, tableFilter map[string]struct{}, logger *zap.Logger) (parser.Parser, *schema.Registry) {
	switch cfg.Plugin {
	case parser.PluginWal2JSON:
		return parser.NewWal2JSONParser(parser.Wal2JSONConfig{
			TableFilter: tableFilter,
			Logger:      logger,
			BufferSize:  cfg.ParsedEventBufferSize,
		}), nil
	default:
		p := parser.NewPGOutputParser(parser.PGOutputConfig{
			TableFilter: tableFilter,
			Logger:      logger,
			BufferSize:  cfg.ParsedEventBufferSize,
		})
		return p, p.Registry()
	}
}

func buildPublisher(cfg config.Config, logger *zap.Logger) publisher.Publisher {
	switch cfg.Sink {
	case config.SinkKafka:
		return publisher.NewKafkaPublisher(publisher.KafkaOptions{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
	case config.SinkNoop:
		return publisher.NewNoopPublisher()
	default:
		if len(cfg.NATSURLs) == 0 {
			logger.Warn("NATS URLs missing, using noop publisher")
			return publisher.NewNoopPublisher()
		}
		return publisher.NewJetStreamPublisher(publisher.JetStreamOptions{
			URLs:           cfg.NATSURLs,
			Username:       cfg.NATSUsername,
			Password:       cfg.NATSPassword,
			ConnectTimeout: cfg.NATSTimeout,
			PublishTimeout: cfg.NATSTimeout,
			StreamName:     cfg.StreamName,
		}, logger)
	}
}

func buildTableFilter(filters []string) map[string]struct{} {
	if len(filters) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(filters))
	for _, f := range filters {
		out[f] = struct{}{}
	}
	return out
}

// newCheckpointStore builds the configured checkpoint store. The redis backend
// falls back to in-memory when the server is unreachable, so a flaky cache
// never blocks startup.
func newCheckpointStore(cfg config.Config, logger *zap.Logger) (checkpoint.Store, func()) {
	switch cfg.CheckpointBackend {
	case config.CheckpointSlot:
		return checkpoint.NewSlotStore(cfg.DatabaseURL, cfg.SlotName), func() {}
	case config.CheckpointMemory:
		return checkpoint.NewMemoryStore(), func() {}
	default:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid redis url, using memory store", zap.String("url", cfg.RedisURL), zap.Error(err))
			return checkpoint.NewMemoryStore(), func() {}
		}
		client := redis.NewClient(opt)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CheckpointFreq)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using memory store", zap.Error(err))
			_ = client.Close()
			return checkpoint.NewMemoryStore(), func() {}
		}
		return checkpoint.NewRedisStore(client, cfg.CheckpointKey, cfg.CheckpointTTL), func() { _ = client.Close() }
	}
}
