// Package transporttest provides fakes for exercising transport builders.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a settable transport.Config.
type Config struct {
	Transport          string
	ConsumerGroup      string
	KafkaBrokers       []string
	KafkaClientID      string
	RabbitMQURL        string
	NATSURL            string
	NATSClientName     string
	NATSMaxReconnects  int
	NATSReconnectWait  time.Duration
	NATSStream         string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisStreamMaxLen  int64
	RedisConsumerName  string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetTransport() string                { return c.Transport }
func (c *Config) GetConsumerGroup() string            { return c.ConsumerGroup }
func (c *Config) GetKafkaBrokers() []string           { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string            { return c.KafkaClientID }
func (c *Config) GetRabbitMQURL() string              { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string                  { return c.NATSURL }
func (c *Config) GetNATSClientName() string           { return c.NATSClientName }
func (c *Config) GetNATSMaxReconnects() int           { return c.NATSMaxReconnects }
func (c *Config) GetNATSReconnectWait() time.Duration { return c.NATSReconnectWait }
func (c *Config) GetNATSStream() string               { return c.NATSStream }
func (c *Config) GetRedisAddr() string                { return c.RedisAddr }
func (c *Config) GetRedisPassword() string            { return c.RedisPassword }
func (c *Config) GetRedisDB() int                     { return c.RedisDB }
func (c *Config) GetRedisStreamMaxLen() int64         { return c.RedisStreamMaxLen }
func (c *Config) GetRedisConsumerName() string        { return c.RedisConsumerName }
func (c *Config) GetHTTPServerAddress() string        { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string         { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string                { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string             { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string           { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string       { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string              { return c.AWSEndpoint }

// Publisher records published messages per topic.
type Publisher struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Closed    bool
	Err       error
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (p *Publisher) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// Count returns how many messages went to topic.
func (p *Publisher) Count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published[topic])
}

// Subscriber hands out channels that stay open until ctx ends. A set Err
// fails every Subscribe.
type Subscriber struct {
	mu     sync.Mutex
	Topics []string
	Closed bool
	Err    error
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	s.Topics = append(s.Topics, topic)
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}
