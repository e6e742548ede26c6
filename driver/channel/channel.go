// Package channel provides an in-memory Go channel driver for guardrail.
// This driver is useful for testing and local development.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/guardrail/driver"
)

// DriverName is the name used to register this driver.
const DriverName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	driver.Register(DriverName, Build)
}

// Build creates a new Go channel driver.
func Build(ctx context.Context, cfg driver.Config, logger watermill.LoggerAdapter) (driver.Driver, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	return driver.NewBridge(DriverName, pub, sub, logger), nil
}
