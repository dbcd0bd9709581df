package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	bcache "github.com/radieske/price-duel/internal/bet-service/cache"
	"github.com/radieske/price-duel/internal/bet-service/engine"
	bhttp "github.com/radieske/price-duel/internal/bet-service/http"
	"github.com/radieske/price-duel/internal/bet-service/oracle"
	kpub "github.com/radieske/price-duel/internal/bet-service/producer"
	"github.com/radieske/price-duel/internal/bet-service/store"
	"github.com/radieske/price-duel/internal/bet-service/ws"
	"github.com/radieske/price-duel/internal/keeper"
	"github.com/radieske/price-duel/internal/shared/cache"
	"github.com/radieske/price-duel/internal/shared/config"
	"github.com/radieske/price-duel/internal/shared/db"
	"github.com/radieske/price-duel/internal/shared/kafka"
	"github.com/radieske/price-duel/internal/shared/logger"
	"github.com/radieske/price-duel/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: Postgres em produção; SQLite ou memória para rodar tudo num processo só
	var st store.Store
	switch cfg.StoreDriver {
	case "memory":
		st = store.NewMemory()
		log.Warn("using in-memory store; state is lost on restart")
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			log.Fatal("sqlite dir", zap.Error(err))
		}
		ls, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatal("sqlite", zap.Error(err))
		}
		defer ls.Close()
		st = ls
	case "postgres":
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("pg", zap.Error(err))
		}
		defer pg.Close()
		ps := store.NewPostgres(pg)
		if err := ps.EnsureSchema(ctx); err != nil {
			log.Fatal("schema", zap.Error(err))
		}
		st = ps
	default:
		log.Fatal("unknown STORE_DRIVER", zap.String("driver", cfg.StoreDriver))
	}

	var feed oracle.Feed
	if cfg.OracleURL != "" {
		feed = oracle.NewHermes(cfg.OracleURL, cfg.OracleTimeout)
	} else {
		static, err := oracle.ParseStatic(cfg.OracleStaticPrices)
		if err != nil {
			log.Fatal("ORACLE_STATIC_PRICES", zap.Error(err))
		}
		log.Warn("ORACLE_URL not set; using static price feed", zap.Int("feeds", static.Len()))
		feed = static
	}

	opts := []engine.Option{engine.WithMetrics(engine.NewMetrics(prometheus.DefaultRegisterer))}

	// Kafka writer (topic bet_events)
	if cfg.KafkaBrokers != "" {
		writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetEvents)
		defer writer.Close()
		opts = append(opts, engine.WithPublisher(kpub.NewKafkaPublisher(writer, cfg.TopicBetEvents)))
	}

	// Redis: cache de leitura + fan-out para o websocket
	hub := ws.NewHub(log, func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return len(cfg.CORSOrigins) == 0 || o == "" || slices.Contains(cfg.CORSOrigins, o)
	})
	var (
		rdb      *redis.Client
		betCache bhttp.BetCache
	)
	if cfg.RedisAddr != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		c := bcache.New(rdb, cfg.CacheTTL)
		betCache = c
		opts = append(opts, engine.WithCache(c))
		ws.StartRedisSubscriber(ctx, log, rdb, cfg.RedisPubSubChannel, hub)
	}

	eng := engine.New(log, st, feed, opts...)

	// Sem Postgres nenhum outro processo enxerga as apostas: o keeper roda aqui
	if cfg.StoreDriver != "postgres" {
		k := keeper.New(log.Named("keeper"), st, eng, cfg.KeeperInterval)
		go func() { _ = k.Start(ctx) }()
	}

	// metrics/health
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	})
	log.Info("metrics/health", zap.String("addr", ":"+cfg.MetricsPort))

	// HTTP público
	api := bhttp.NewServer(log, eng, st, betCache, http.HandlerFunc(hub.HandleWS))
	api.CORSOrigins = cfg.CORSOrigins
	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("bet-service listening", zap.String("addr", apiSrv.Addr), zap.String("store", cfg.StoreDriver))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
