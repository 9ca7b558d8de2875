// Package transporttest holds helpers shared by transport package tests.
package transporttest

import "time"

// Config is a static transport.Config for tests.
type Config struct {
	System        string
	ClusterID     string
	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	RabbitMQURL   string
	DialTimeout   time.Duration
}

func (c *Config) GetPubSubSystem() string  { return c.System }
func (c *Config) GetClusterID() string     { return c.ClusterID }
func (c *Config) GetRedisURL() string      { return c.RedisURL }
func (c *Config) GetRedisAddr() string     { return c.RedisAddr }
func (c *Config) GetRedisPassword() string { return c.RedisPassword }
func (c *Config) GetRedisDB() int          { return c.RedisDB }
func (c *Config) GetNATSURL() string       { return c.NATSURL }
func (c *Config) GetRabbitMQURL() string   { return c.RabbitMQURL }

func (c *Config) GetDialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return time.Second
	}
	return c.DialTimeout
}
