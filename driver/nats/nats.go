// Package nats provides a NATS Core driver for guardrail.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/guardrail/driver"
)

// DriverName is the name used to register this driver.
const DriverName = "nats"

const connectTimeout = 5 * time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	driver.Register(DriverName, Build)
}

// Build creates a new NATS driver.
func Build(ctx context.Context, cfg driver.Config, logger watermill.LoggerAdapter) (driver.Driver, error) {
	url := cfg.GetNATSURL()
	marshaler := &wmnats.NATSMarshaler{}

	options := []nc.Option{
		nc.Timeout(connectTimeout),
		nc.RetryOnFailedConnect(true),
	}
	if name := cfg.GetNATSClientName(); name != "" {
		options = append(options, nc.Name(name))
	}

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			Marshaler:   marshaler,
			NatsOptions: options,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:         url,
			Unmarshaler: marshaler,
			NatsOptions: options,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return driver.NewBridge(DriverName, publisher, subscriber, logger), nil
}
