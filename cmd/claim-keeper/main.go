package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	bcache "github.com/radieske/price-duel/internal/bet-service/cache"
	"github.com/radieske/price-duel/internal/bet-service/engine"
	"github.com/radieske/price-duel/internal/bet-service/oracle"
	kpub "github.com/radieske/price-duel/internal/bet-service/producer"
	"github.com/radieske/price-duel/internal/bet-service/store"
	"github.com/radieske/price-duel/internal/keeper"
	"github.com/radieske/price-duel/internal/shared/cache"
	"github.com/radieske/price-duel/internal/shared/config"
	"github.com/radieske/price-duel/internal/shared/db"
	"github.com/radieske/price-duel/internal/shared/kafka"
	"github.com/radieske/price-duel/internal/shared/logger"
	"github.com/radieske/price-duel/internal/shared/metrics"
	"github.com/radieske/price-duel/internal/wager"
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

	if cfg.OracleURL == "" {
		log.Fatal("ORACLE_URL is required for the claim keeper")
	}

	// O keeper precisa enxergar as mesmas apostas do bet-service: só Postgres
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()
	st := store.NewPostgres(pg)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal("schema", zap.Error(err))
	}

	// Métricas Prometheus
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "keeper_bets_settled_total", Help: "apostas liquidadas pelo keeper"}, []string{"outcome"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "keeper_claim_failures_total", Help: "falhas de liquidação por tipo"}, []string{"kind"})
	passes := prometheus.NewCounter(prometheus.CounterOpts{Name: "keeper_passes_total", Help: "varreduras executadas"})
	prometheus.MustRegister(settled, failed, passes)

	opts := []engine.Option{engine.WithMetrics(engine.NewMetrics(prometheus.DefaultRegisterer))}

	// Liquidações do keeper também geram bet_settled e invalidam o cache
	if cfg.KafkaBrokers != "" {
		writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetEvents)
		defer writer.Close()
		opts = append(opts, engine.WithPublisher(kpub.NewKafkaPublisher(writer, cfg.TopicBetEvents)))
	}
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		opts = append(opts, engine.WithCache(bcache.New(rdb, cfg.CacheTTL)))
	}

	eng := engine.New(log, st, oracle.NewHermes(cfg.OracleURL, cfg.OracleTimeout), opts...)

	k := keeper.New(log, st, eng, cfg.KeeperInterval)
	k.OnSettled = func(s wager.State) { settled.WithLabelValues(string(s)).Inc() }
	k.OnFailed = func(kind string) { failed.WithLabelValues(kind).Inc() }

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, st.Ping)
	log.Info("metrics/health", zap.String("addr", ":"+cfg.MetricsPort))

	log.Info("claim-keeper started", zap.Duration("interval", cfg.KeeperInterval), zap.String("oracle", cfg.OracleURL))

	// Loop principal: uma varredura por tick até o sinal de parada
	ticker := time.NewTicker(cfg.KeeperInterval)
	defer ticker.Stop()
	for {
		n, err := k.RunOnce(ctx)
		passes.Inc()
		if err != nil && ctx.Err() == nil {
			log.Error("keeper pass", zap.Error(err))
		} else if n > 0 {
			log.Info("keeper settled bets", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
			return
		case <-ticker.C:
		}
	}
}
