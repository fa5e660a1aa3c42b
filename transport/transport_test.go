package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

type mockConfig struct {
	transport string
}

func (m *mockConfig) GetTransport() string                { return m.transport }
func (m *mockConfig) GetConsumerGroup() string            { return "" }
func (m *mockConfig) GetKafkaBrokers() []string           { return nil }
func (m *mockConfig) GetKafkaClientID() string            { return "" }
func (m *mockConfig) GetRabbitMQURL() string              { return "" }
func (m *mockConfig) GetNATSURL() string                  { return "" }
func (m *mockConfig) GetNATSClientName() string           { return "" }
func (m *mockConfig) GetNATSMaxReconnects() int           { return 0 }
func (m *mockConfig) GetNATSReconnectWait() time.Duration { return 0 }
func (m *mockConfig) GetNATSStream() string               { return "" }
func (m *mockConfig) GetRedisAddr() string                { return "" }
func (m *mockConfig) GetRedisPassword() string            { return "" }
func (m *mockConfig) GetRedisDB() int                     { return 0 }
func (m *mockConfig) GetRedisStreamMaxLen() int64         { return 0 }
func (m *mockConfig) GetRedisConsumerName() string        { return "" }
func (m *mockConfig) GetHTTPServerAddress() string        { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string         { return "" }
func (m *mockConfig) GetAWSRegion() string                { return "" }
func (m *mockConfig) GetAWSAccountID() string             { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string           { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string       { return "" }
func (m *mockConfig) GetAWSEndpoint() string              { return "" }

var _ Config = (*mockConfig)(nil)

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                            { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }
