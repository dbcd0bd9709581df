package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/price-duel/internal/bet-events/pubsub"
	"github.com/radieske/price-duel/internal/bet-events/relay"
	sharedcache "github.com/radieske/price-duel/internal/shared/cache"
	"github.com/radieske/price-duel/internal/shared/config"
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

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Consumer group próprio: cada instância do worker divide as partições de bet_events
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicBetEvents, cfg.ConsumerGroup)
	defer reader.Close()

	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetEventsDLQ)
	defer dlq.Close()

	// Métricas Prometheus do relay
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "bet_events_consumed_total", Help: "mensagens consumidas"})
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bet_events_relayed_total", Help: "eventos repassados ao websocket por tipo"}, []string{"type"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bet_events_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, relayed, errorsBy)

	r := &relay.Relay{
		Log:         log,
		Reader:      reader,
		DLQ:         dlq,
		Broadcaster: pubsub.NewRedisBroadcaster(redisClient),
		Channel:     cfg.RedisPubSubChannel,
		OnConsumed:  func() { consumed.Inc() },
		OnRelayed:   func(t string) { relayed.WithLabelValues(t).Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
		PublishWait: 500 * time.Millisecond,
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	log.Info("metrics/health listening", zap.String("addr", ":"+cfg.MetricsPort))

	log.Info("bet-events-worker started",
		zap.String("consume", cfg.TopicBetEvents),
		zap.String("broadcast", cfg.RedisPubSubChannel),
	)
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("relay stopped with error", zap.Error(err))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("bet-events-worker stopped")
}
