package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"formsink/internal/config"
	"formsink/internal/db"
	"formsink/internal/http/handlers"
	appmw "formsink/internal/http/middleware"
	"formsink/internal/notify"
	"formsink/internal/sheets"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	gdb, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}

	if err := db.EnsureBootstrapAdmin(gdb, cfg); err != nil {
		logger.Fatal("failed to ensure bootstrap admin", zap.Error(err))
	}
	if cfg.BootstrapAPIKey != "" {
		if err := db.EnsureBootstrapAPIKey(gdb, cfg); err != nil {
			logger.Warn("failed to ensure bootstrap API key", zap.Error(err))
		}
	}

	db.StartVerificationSweeper(gdb, logger)
	db.StartDeliveryRollupWorker(gdb, logger)

	handlers.InitPrometheusMetrics()
	notify.InitPrometheusMetrics()

	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}
	email := &notify.EmailSender{
		Endpoint: cfg.EmailEndpoint,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		Client:   providerClient,
	}
	slack := &notify.SlackSender{Client: providerClient}
	discord := &notify.DiscordSender{Client: providerClient}
	syncer := sheets.NewSyncer(gdb, logger, providerClient, cfg.GoogleClientID, cfg.GoogleClientSecret)
	dispatcher := notify.NewDispatcher(gdb, logger, email, slack, discord, syncer)

	collectAuth := appmw.KeyAuth(gdb, logger, appmw.KeyAuthOptions{AllowQueryKey: true, RequireWrite: true})
	readAuth := appmw.KeyAuth(gdb, logger, appmw.KeyAuthOptions{RequireRead: true})
	writeAuth := appmw.KeyAuth(gdb, logger, appmw.KeyAuthOptions{RequireWrite: true})

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.POST("/collect", collectAuth(handlers.CollectHandler(gdb, cfg, dispatcher, logger)))
	r.POST("/f/{slug}", collectAuth(handlers.CollectBySlugHandler(gdb, cfg, dispatcher, logger)))
	r.GET("/verify/{token}", handlers.VerifyRecipient(gdb))

	r.GET("/v1/forms", readAuth(handlers.ListForms(gdb)))
	r.GET("/v1/forms/{slug}", readAuth(handlers.GetForm(gdb)))
	r.PATCH("/v1/forms/{slug}", writeAuth(handlers.UpdateForm(gdb)))
	r.DELETE("/v1/forms/{slug}", writeAuth(handlers.DeleteForm(gdb)))

	r.GET("/v1/forms/{slug}/submissions", readAuth(handlers.ListSubmissions(gdb)))
	r.GET("/v1/submissions/{id}", readAuth(handlers.GetSubmission(gdb)))
	r.DELETE("/v1/submissions/{id}", writeAuth(handlers.DeleteSubmission(gdb)))

	r.POST("/v1/forms/{slug}/recipients", writeAuth(handlers.AddRecipient(gdb, cfg, email, logger)))

	r.GET("/v1/keys", readAuth(handlers.ListAPIKeys(gdb)))
	r.POST("/v1/keys", writeAuth(handlers.CreateAPIKey(gdb)))
	r.POST("/v1/keys/{id}/roll", writeAuth(handlers.RollAPIKey(gdb)))
	r.DELETE("/v1/keys/{id}", writeAuth(handlers.DeleteAPIKey(gdb)))

	r.GET("/v1/forms/{slug}/stats", readAuth(handlers.FormStats(gdb)))
	r.GET("/v1/stats", readAuth(handlers.GlobalStats(gdb)))
	r.GET("/metrics", handlers.OwnerMetricsHandler(gdb))

	server := &fasthttp.Server{
		Handler: appmw.RequestLogger(logger)(r.Handler),
	}

	go func() {
		logger.Info("formsink listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	// Give in-flight notification fan-out a chance to finish.
	dispatcher.Drain(10 * time.Second)
}
