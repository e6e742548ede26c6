package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/guardrail/driver"
)

type mockConfig struct {
	awsRegion    string
	awsAccountID string
	awsEndpoint  string
	accessKey    string
	secretKey    string
}

func (m *mockConfig) GetBackend() string            { return "aws" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetNATSClientName() string     { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetAWSRegion() string          { return m.awsRegion }
func (m *mockConfig) GetAWSAccountID() string       { return m.awsAccountID }
func (m *mockConfig) GetAWSAccessKeyID() string     { return m.accessKey }
func (m *mockConfig) GetAWSSecretAccessKey() string { return m.secretKey }
func (m *mockConfig) GetAWSEndpoint() string        { return m.awsEndpoint }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }

func withMockedFactories(t *testing.T) {
	t.Helper()
	originalConfigLoader := DefaultConfigLoader
	originalTopicResolver := TopicResolverFactory
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalConfigLoader
		TopicResolverFactory = originalTopicResolver
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	})

	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return &sns.GenerateArnTopicResolver{}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return &mockPublisher{}, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return &mockSubscriber{}, nil
	}
}

func TestRegisteredInDefaultRegistry(t *testing.T) {
	assert.True(t, driver.DefaultRegistry.Has(DriverName))
}

func TestBuild(t *testing.T) {
	t.Run("creates driver with mocked factories", func(t *testing.T) {
		withMockedFactories(t)

		cfg := &mockConfig{
			awsRegion:    "us-east-1",
			awsAccountID: "123456789012",
		}
		drv, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.NotNil(t, drv)
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		withMockedFactories(t)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		cfg := &mockConfig{awsRegion: "us-east-1"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "config error")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		withMockedFactories(t)
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		cfg := &mockConfig{awsRegion: "us-east-1", awsAccountID: "123456789012"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})

	t.Run("returns error when subscriber factory fails", func(t *testing.T) {
		withMockedFactories(t)
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		cfg := &mockConfig{awsRegion: "us-east-1", awsAccountID: "123456789012"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber error")
	})

	t.Run("passes custom endpoint into SDK config", func(t *testing.T) {
		withMockedFactories(t)

		var sawEndpoint string
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			if cfg.AWSConfig.BaseEndpoint != nil {
				sawEndpoint = *cfg.AWSConfig.BaseEndpoint
			}
			return &mockPublisher{}, nil
		}

		cfg := &mockConfig{
			awsRegion:    "us-east-1",
			awsAccountID: "123456789012",
			awsEndpoint:  "http://localhost:4566",
		}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, "http://localhost:4566", sawEndpoint)
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("empty account with LocalStack endpoint falls back", func(t *testing.T) {
		cfg := &mockConfig{awsEndpoint: "http://localhost:4566", awsRegion: "us-east-1"}

		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "")
		assert.Equal(t, localstackAccountID, accountID)
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("invalid account with LocalStack endpoint falls back", func(t *testing.T) {
		cfg := &mockConfig{awsAccountID: "short", awsEndpoint: "http://localhost:4566", awsRegion: "us-east-1"}

		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("valid account is kept", func(t *testing.T) {
		cfg := &mockConfig{awsAccountID: "123456789012", awsRegion: "eu-central-1"}

		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "eu-central-1", region)
	})

	t.Run("quotes and spaces are trimmed", func(t *testing.T) {
		cfg := &mockConfig{awsAccountID: `"123456789012"`, awsRegion: "eu-central-1"}

		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "")
		assert.Equal(t, "123456789012", accountID)
	})

	t.Run("nil config uses fallback region", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(nil, watermill.NopLogger{}, "ap-south-1")
		assert.Empty(t, accountID)
		assert.Equal(t, "ap-south-1", region)
	})
}
