package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookflowhq/bookflow/libs/config"
	"github.com/bookflowhq/bookflow/libs/db"
	"github.com/bookflowhq/bookflow/libs/httpx"
	"github.com/bookflowhq/bookflow/libs/kafkax"
	otelx "github.com/bookflowhq/bookflow/libs/otel"
	"github.com/bookflowhq/bookflow/libs/runtime"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/booking"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/consumer"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/handlers"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/inbox"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/jobs"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/outbox"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/storage"
	"github.com/bookflowhq/bookflow/services/booking-service/migrations"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, migrations.FS, "."); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}

	repo := storage.NewBookingRepository(pool)
	catalog := storage.NewCatalogRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)
	jobsRepo := jobs.NewRepository()

	committer := booking.NewCommitter(repo, catalog, jobsRepo, outboxRepo, logger)
	aggregator := booking.NewAggregator(catalog, repo, logger)
	bookingHandler := handlers.NewBookingHandler(aggregator, committer, catalog, repo, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	jobWorker := jobs.NewWorker(pool, jobsRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  config.Duration("JOB_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("JOB_BATCH_SIZE", 50),
		Backoff:   config.Duration("JOB_RETRY_BACKOFF", time.Minute),
	})
	go jobWorker.Run(ctx)

	// The notifier reports delivered reminders back; consuming them flips the
	// reminder_sent flag so the lifecycle is visible on the appointment.
	dispatchTopic := config.String("KAFKA_REMINDER_DISPATCHED_TOPIC", "notifier.reminder.dispatched.v1")
	if strings.TrimSpace(brokers) != "" && strings.TrimSpace(dispatchTopic) != "" {
		dispatchConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   dispatchTopic,
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				AppointmentID string `json:"appointment_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.AppointmentID == "" {
				logger.Error("invalid reminder dispatch payload", "topic", msg.Topic)
				return nil
			}
			return repo.MarkReminderSent(ctx, payload.AppointmentID)
		})
		go dispatchConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/booking/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/booking/create", bookingHandler.Create)
	mux.HandleFunc("/api/v1/booking/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/booking/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/booking/appointments/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/booking/page", bookingHandler.Page)

	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limiter httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
		limiter = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, "booking").Middleware(logger, failOpen)
	} else {
		limiter = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         10 * time.Minute,
		}),
		limiter,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
