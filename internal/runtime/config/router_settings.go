package config

import "time"

// RouterSettings is the view of a Config one transport builder reads.
type RouterSettings struct {
	conf   *Config
	router RouterConfig
}

// Router returns the router declaration.
func (s RouterSettings) Router() RouterConfig { return s.router }

func (s RouterSettings) GetTransport() string                { return s.router.Transport }
func (s RouterSettings) GetConsumerGroup() string            { return s.conf.ConsumerGroup }
func (s RouterSettings) GetKafkaBrokers() []string           { return s.conf.KafkaBrokers }
func (s RouterSettings) GetKafkaClientID() string            { return s.conf.KafkaClientID }
func (s RouterSettings) GetRabbitMQURL() string              { return s.conf.RabbitMQURL }
func (s RouterSettings) GetNATSURL() string                  { return s.conf.NATSURL }
func (s RouterSettings) GetNATSMaxReconnects() int           { return s.conf.NATSMaxReconnects }
func (s RouterSettings) GetNATSReconnectWait() time.Duration { return s.conf.NATSReconnectWait }
func (s RouterSettings) GetNATSStream() string               { return s.conf.NATSStream }
func (s RouterSettings) GetRedisAddr() string                { return s.conf.RedisAddr }
func (s RouterSettings) GetRedisPassword() string            { return s.conf.RedisPassword }
func (s RouterSettings) GetRedisDB() int                     { return s.conf.RedisDB }
func (s RouterSettings) GetRedisStreamMaxLen() int64         { return s.conf.RedisStreamMaxLen }
func (s RouterSettings) GetHTTPServerAddress() string        { return s.conf.HTTPServerAddress }
func (s RouterSettings) GetHTTPPublisherURL() string         { return s.conf.HTTPPublisherURL }
func (s RouterSettings) GetAWSRegion() string                { return s.conf.AWSRegion }
func (s RouterSettings) GetAWSAccountID() string             { return s.conf.AWSAccountID }
func (s RouterSettings) GetAWSAccessKeyID() string           { return s.conf.AWSAccessKeyID }
func (s RouterSettings) GetAWSSecretAccessKey() string       { return s.conf.AWSSecretAccessKey }
func (s RouterSettings) GetAWSEndpoint() string              { return s.conf.AWSEndpoint }

// GetNATSClientName defaults to "<appId>-<instanceId>" so connections are
// attributable on the server.
func (s RouterSettings) GetNATSClientName() string {
	if s.conf.NATSClientName != "" {
		return s.conf.NATSClientName
	}
	return s.instanceName()
}

// GetRedisConsumerName names this instance inside the consumer group and
// defaults to "<appId>-<instanceId>".
func (s RouterSettings) GetRedisConsumerName() string {
	if s.conf.RedisConsumerName != "" {
		return s.conf.RedisConsumerName
	}
	return s.instanceName()
}

func (s RouterSettings) instanceName() string {
	if s.conf.AppID == "" {
		return ""
	}
	return s.conf.AppID + "-" + s.conf.AppInstanceID
}
