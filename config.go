package main

var DefConfig Config

type Config struct {
	Host      string `json:"host"`
	PprofHost string `json:"pprof_host" yaml:"pprof_host" mapstructure:"pprof_host"`

	// JWTSecret verifies the handshake tokens issued by the session layer.
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret" mapstructure:"jwt_secret"`
	// InternalSecret signs requests arriving on /internal/publish.
	InternalSecret string `json:"internal_secret" yaml:"internal_secret" mapstructure:"internal_secret"`

	DB    string `json:"db"`
	DBLog bool   `json:"dblog"`

	Redis  RedisConfig  `json:"redis" yaml:"redis" mapstructure:"redis"`
	Client ClientConfig `json:"client" yaml:"client" mapstructure:"client"`
	Cache  CacheConfig  `json:"cache" yaml:"cache" mapstructure:"cache"`
}

type RedisConfig struct {
	Enable  bool   `json:"enable" yaml:"enable" mapstructure:"enable"`
	Host    string `json:"host" yaml:"host" mapstructure:"host"`
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Channel string `json:"channel" yaml:"channel" mapstructure:"channel"`
}

type ClientConfig struct {
	ReadMessageSizeLimit int64 `json:"read_message_size_limit" yaml:"read_message_size_limit" mapstructure:"read_message_size_limit"`
	Compression          bool  `json:"compression" yaml:"compression" mapstructure:"compression"`
	CompressionLevel     int   `json:"compression_level" yaml:"compression_level" mapstructure:"compression_level"`
	ReadBufferSize       int   `json:"read_buffer_size" yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize      int   `json:"write_buffer_size" yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	SendQueueSize        int   `json:"send_queue_size" yaml:"send_queue_size" mapstructure:"send_queue_size"`
}

type CacheConfig struct {
	// AggregateTTLMinutes bounds cached read aggregations such as a user's
	// conversation list. Invalidation on write is the primary freshness
	// mechanism; the TTL is a backstop.
	AggregateTTLMinutes int `json:"aggregate_ttl_minutes" yaml:"aggregate_ttl_minutes" mapstructure:"aggregate_ttl_minutes"`
	// PresenceTTLMinutes bounds cached online lookups, which are far more
	// volatile.
	PresenceTTLMinutes int `json:"presence_ttl_minutes" yaml:"presence_ttl_minutes" mapstructure:"presence_ttl_minutes"`
}

func (c CacheConfig) aggregateTTL() int {
	if c.AggregateTTLMinutes <= 0 {
		return 30
	}
	return c.AggregateTTLMinutes
}

func (c CacheConfig) presenceTTL() int {
	if c.PresenceTTLMinutes <= 0 {
		return 2
	}
	return c.PresenceTTLMinutes
}

func (c ClientConfig) sendQueue() int {
	if c.SendQueueSize <= 0 {
		return 16
	}
	return c.SendQueueSize
}
