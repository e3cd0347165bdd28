package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ganapp/src-server/metric"
	"ganapp/src-server/model"
	"ganapp/src-server/notify"
	"ganapp/src-server/route"
	"ganapp/src-server/scheduler"
	"ganapp/src-server/stream"
	"ganapp/src-server/utils"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logLevel = new(slog.LevelVar)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	logLevel.Set(slog.LevelDebug)
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	as := utils.NewAppState()
	logLevel.Set(as.Config.GetLogLevel())

	if err := model.CreateSchema(as.BunDB); err != nil {
		slog.Error("can't create database schema", "error", err)
		os.Exit(1)
	}
	adminEmail, adminPassword := as.Config.GetAdminCredentials()
	if created, err := model.EnsureAdmin(context.Background(), as.BunDB, adminEmail, adminPassword); err != nil {
		slog.Error("can't create the admin account", "error", err)
		os.Exit(1)
	} else if created {
		slog.Info("admin account created", "email", adminEmail)
	}

	// notification channels
	hub := notify.NewHub()
	fromName, fromEmail := as.Config.GetMailersendFrom()
	mailer := notify.NewMailersendMailer(as.Config.GetMailersendAPIKey(), fromName, fromEmail)
	var announcer *notify.DiscordAnnouncer
	if webhookURL := as.Config.GetDiscordWebhookURL(); webhookURL != "" {
		id, token, err := utils.ParseDiscordWebhookURL(webhookURL)
		if err != nil {
			slog.Error("invalid Discord webhook", "error", err)
			os.Exit(1)
		}
		if announcer, err = notify.NewDiscordAnnouncer(id, token); err != nil {
			slog.Error("can't create Discord announcer", "error", err)
			os.Exit(1)
		}
	}
	publisher := stream.New(as.Config.GetKafkaBrokers(), as.Config.GetKafkaTopic())
	dispatcher := notify.NewDispatcher(as.BunDB, hub, mailer, announcer, as.MetricChans, as.Config.GetHostname())

	metric.Init(as, hub, prometheus.DefaultRegisterer)
	var schedulers sync.WaitGroup
	for _, run := range []func(*utils.AppState, *notify.Dispatcher){
		scheduler.EventReminder,
		scheduler.EventLifecycle,
	} {
		schedulers.Add(1)
		go func() {
			defer schedulers.Done()
			run(as, dispatcher)
		}()
	}

	// http server
	muxer := http.NewServeMux()
	muxer.Handle("GET /metrics", promhttp.Handler())
	route.Register(muxer, as, &route.Services{Dispatcher: dispatcher, Publisher: publisher})
	server := &http.Server{
		Addr:              ":" + as.Config.GetPort(),
		Handler:           muxer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("cannot start HTTP server", "error", err)
			as.AppCloseSignalChan <- syscall.SIGTERM
		}
	}()

	slog.Info("app is now running, press Ctrl+C to exit", "port", as.Config.GetPort())

	signal.Notify(as.AppCloseSignalChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-as.AppCloseSignalChan
	slog.Info("Gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// nothing may call the dispatcher once we wait on it, and the database
	// closes last
	hub.Close()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("can't shut down HTTP server", "error", err)
	}
	as.StopBackground()
	schedulers.Wait()
	dispatcher.Wait()
	if err := publisher.Close(); err != nil {
		slog.Warn("can't close event publisher", "error", err)
	}
	as.GracefulShutdown()
}
