package metric

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"ganapp/src-server/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConnectionCounter reports open realtime connections. An empty user id
// counts everyone.
type ConnectionCounter interface {
	Count(userID string) int
}

type Collectors struct {
	DatabaseEmptyRead    prometheus.Gauge
	DatabaseRead         prometheus.Gauge
	DatabaseWrite        prometheus.Gauge
	HTTPRequests         *prometheus.CounterVec
	HTTPLatency          *prometheus.HistogramVec
	NotificationsSent    *prometheus.CounterVec
	CheckIns             prometheus.Counter
	WebsocketConnections prometheus.GaugeFunc
}

func unregisterOnShutdown(reg prometheus.Registerer, shutdownCh chan struct{}, name string, c prometheus.Collector) {
	<-shutdownCh
	switch reg.Unregister(c) {
	case true:
		slog.Debug(name + " metric unregistered")
	case false:
		slog.Warn(name + " metric not registered")
	}
}

func databaseEmptyRead(as *utils.AppState, reg prometheus.Registerer, tickerInterval time.Duration) prometheus.Gauge {
	gauge := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "ganapp_database_empty_read_microsec",
		Help: "The latency of an empty database read in microseconds",
	})
	slog.Debug("ganapp_database_empty_read_microsec metric registered")
	gracefulShutdownCh := as.CreateGracefulShutdownChan()
	go func() {
		ticker := time.NewTicker(tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				reg.Unregister(gauge)
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), tickerInterval)
				latency, err := database(ctx, as)
				cancel()
				if err != nil {
					slog.Error("can't get database latency", "error", err)
					continue
				}
				gauge.Set(float64(latency.Microseconds()))
			}
		}
	}()
	return gauge
}

// Mirrors the latest sample from ch, dropping back to zero when nothing
// arrives for a while.
func latencyGauge(as *utils.AppState, reg prometheus.Registerer, name, help string, ch chan float64, clearTickerInterval time.Duration) prometheus.Gauge {
	gauge := promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	slog.Debug(name + " metric registered")
	gracefulShutdownCh := as.CreateGracefulShutdownChan()
	go func() {
		clearTicker := time.NewTicker(clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-gracefulShutdownCh:
				reg.Unregister(gauge)
				return
			case latency := <-ch:
				gauge.Set(latency)
				clearTicker.Reset(clearTickerInterval)
			case <-clearTicker.C:
				gauge.Set(0)
			}
		}
	}()
	return gauge
}

func httpRequests(as *utils.AppState, reg prometheus.Registerer) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	requests := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "ganapp_http_requests_total",
		Help: "Handled HTTP requests by route and status",
	}, []string{"route", "status"})
	latency := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ganapp_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	slog.Debug("ganapp_http_requests_total metric registered")
	gracefulShutdownCh := as.CreateGracefulShutdownChan()
	go func() {
		for {
			select {
			case <-gracefulShutdownCh:
				reg.Unregister(requests)
				reg.Unregister(latency)
				return
			case req := <-as.MetricChans.HTTPRequest:
				requests.WithLabelValues(req.Route, strconv.Itoa(req.Status)).Inc()
				latency.WithLabelValues(req.Route).Observe(req.Latency.Seconds())
			}
		}
	}()
	return requests, latency
}

func notificationsSent(as *utils.AppState, reg prometheus.Registerer) *prometheus.CounterVec {
	sent := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "ganapp_notifications_sent_total",
		Help: "Delivered notifications by channel",
	}, []string{"channel"})
	for _, channel := range []string{"inapp", "websocket", "email", "discord"} {
		sent.WithLabelValues(channel)
	}
	slog.Debug("ganapp_notifications_sent_total metric registered")
	gracefulShutdownCh := as.CreateGracefulShutdownChan()
	go func() {
		for {
			select {
			case <-gracefulShutdownCh:
				reg.Unregister(sent)
				return
			case channel := <-as.MetricChans.NotificationSent:
				sent.WithLabelValues(channel).Inc()
			}
		}
	}()
	return sent
}

func checkIns(as *utils.AppState, reg prometheus.Registerer) prometheus.Counter {
	counter := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "ganapp_checkins_total",
		Help: "Recorded event check-ins",
	})
	slog.Debug("ganapp_checkins_total metric registered")
	gracefulShutdownCh := as.CreateGracefulShutdownChan()
	go func() {
		for {
			select {
			case <-gracefulShutdownCh:
				reg.Unregister(counter)
				return
			case <-as.MetricChans.CheckIn:
				counter.Inc()
			}
		}
	}()
	return counter
}

func websocketConnections(as *utils.AppState, reg prometheus.Registerer, hub ConnectionCounter) prometheus.GaugeFunc {
	gauge := promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ganapp_websocket_connections",
		Help: "Open realtime notification connections",
	}, func() float64 {
		return float64(hub.Count(""))
	})
	slog.Debug("ganapp_websocket_connections metric registered")
	go unregisterOnShutdown(reg, as.CreateGracefulShutdownChan(), "ganapp_websocket_connections", gauge)
	return gauge
}

// Registers every collector on reg and starts draining the metric channels
// until the app shuts down.
func Init(as *utils.AppState, hub ConnectionCounter, reg prometheus.Registerer) *Collectors {
	tickerInterval := as.Config.GetMetricCollectionInterval()
	clearTickerInterval := tickerInterval * 2

	c := &Collectors{
		DatabaseEmptyRead: databaseEmptyRead(as, reg, tickerInterval),
		DatabaseRead: latencyGauge(as, reg,
			"ganapp_database_read_microsec", "The latency of a database read in microseconds",
			as.MetricChans.DatabaseRead, clearTickerInterval),
		DatabaseWrite: latencyGauge(as, reg,
			"ganapp_database_write_microsec", "The latency of a database write in microseconds",
			as.MetricChans.DatabaseWrite, clearTickerInterval),
		NotificationsSent:    notificationsSent(as, reg),
		CheckIns:             checkIns(as, reg),
		WebsocketConnections: websocketConnections(as, reg, hub),
	}
	c.HTTPRequests, c.HTTPLatency = httpRequests(as, reg)
	return c
}
