package registry

import (
	"context"
	"time"
)

// Reading is one health sample of a switch endpoint.
type Reading struct {
	Device       string    `json:"device" cbor:"device"`
	RunID        string    `json:"runId" cbor:"runId"`
	EchoOK       bool      `json:"echoOk" cbor:"echoOk"`
	TemperatureC float64   `json:"temperatureC" cbor:"temperatureC"`
	Timestamp    time.Time `json:"timestamp" cbor:"timestamp"`
	Error        string    `json:"error,omitempty" cbor:"error,omitempty"`
}

// Registry publishes the latest Reading per device where other tools can find it.
// A published reading expires ttl seconds after its publisher stops renewing it.
type Registry interface {
	Publish(ctx context.Context, reading Reading, ttl int64) error
	Withdraw(ctx context.Context, device string) error
	Lookup(ctx context.Context) ([]Reading, error)
	Watch(ctx context.Context) <-chan []Reading
	Close() error
}
