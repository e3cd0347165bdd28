package utils

import "time"

type HTTPRequestMetric struct {
	Route   string
	Status  int
	Latency time.Duration
}

// Channels feeding the prometheus collectors in the metric package. Sends never
// block: when nothing is collecting the sample is dropped.
type Metric struct {
	DatabaseRead     chan float64
	DatabaseWrite    chan float64
	HTTPRequest      chan HTTPRequestMetric
	NotificationSent chan string
	CheckIn          chan struct{}
}

func NewMetric() *Metric {
	return &Metric{
		DatabaseRead:     make(chan float64, 64),
		DatabaseWrite:    make(chan float64, 64),
		HTTPRequest:      make(chan HTTPRequestMetric, 256),
		NotificationSent: make(chan string, 64),
		CheckIn:          make(chan struct{}, 64),
	}
}

func send[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (m *Metric) ObserveDatabaseRead(start time.Time) {
	send(m.DatabaseRead, float64(time.Since(start).Microseconds()))
}

func (m *Metric) ObserveDatabaseWrite(start time.Time) {
	send(m.DatabaseWrite, float64(time.Since(start).Microseconds()))
}

func (m *Metric) ObserveHTTPRequest(route string, status int, latency time.Duration) {
	send(m.HTTPRequest, HTTPRequestMetric{Route: route, Status: status, Latency: latency})
}

// channel is "inapp", "websocket", "email" or "discord"
func (m *Metric) ObserveNotification(channel string) {
	send(m.NotificationSent, channel)
}

func (m *Metric) ObserveCheckIn() {
	send(m.CheckIn, struct{}{})
}
