// Package client assembles a transport.Channel with a middleware chain.
//
//	Echo / DieTemperature
//	  → Client.Exchange
//	    → Logging → Timeout → RateLimit   (middleware chain, outermost first)
//	      → transport.Channel.Exchange     (serialized, one request on the wire at a time)
//
// A Client is itself a transport.Channel, so the command package works on either.
package client

import (
	"context"
	"time"

	"switchtec-mrpc/command"
	"switchtec-mrpc/message"
	"switchtec-mrpc/middleware"
	"switchtec-mrpc/transport"
)

type Options struct {
	Transport *transport.Options
	// Timeout bounds each exchange. Zero disables the timeout middleware.
	Timeout time.Duration
	// RateLimit is the number of exchanges per second allowed; zero disables pacing.
	RateLimit float64
	RateBurst int
	// Logging enables per-exchange logging.
	Logging bool
}

func NewOptions() *Options {
	return &Options{
		Transport: transport.NewOptions(),
		RateBurst: 1,
		Logging:   true,
	}
}

type Client struct {
	ch      transport.Channel
	handler middleware.HandlerFunc
}

var _ transport.Channel = (*Client)(nil)

// NewClient wraps ch; the middlewares run in the order given, outermost first.
func NewClient(ch transport.Channel, middlewares ...middleware.Middleware) *Client {
	final := func(ctx context.Context, req *message.Request) ([]byte, error) {
		return ch.Exchange(ctx, req.CommandID, req.Payload, req.ReplyLen)
	}
	return &Client{
		ch:      ch,
		handler: middleware.Chain(middlewares...)(final),
	}
}

// Open opens path and builds the middleware chain described by opts.
func Open(ctx context.Context, path string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}

	ch, err := transport.Open(ctx, path, opts.Transport)
	if err != nil {
		return nil, err
	}
	return NewClient(ch, Middlewares(opts)...), nil
}

// Middlewares returns the chain opts asks for.
func Middlewares(opts *Options) []middleware.Middleware {
	mws := make([]middleware.Middleware, 0, 3)
	if opts.Logging {
		mws = append(mws, middleware.LoggingMiddleware())
	}
	if opts.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(opts.Timeout))
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		mws = append(mws, middleware.RateLimitMiddleware(opts.RateLimit, burst))
	}
	return mws
}

func (c *Client) Exchange(ctx context.Context, commandID uint32, payload []byte, replyLen int) ([]byte, error) {
	return c.handler(ctx, &message.Request{
		CommandID: commandID,
		Payload:   payload,
		ReplyLen:  replyLen,
	})
}

func (c *Client) Close() error {
	return c.ch.Close()
}

// Echo runs the echo diagnostic with the given sub-command.
func (c *Client) Echo(ctx context.Context, subCommand uint32) (*command.EchoRecord, error) {
	return command.Echo(ctx, c, command.NewEchoRecord(subCommand))
}

// DieTemperature returns the die temperature in degrees Celsius.
func (c *Client) DieTemperature(ctx context.Context) (float64, error) {
	return command.DieTemperature(ctx, c)
}
