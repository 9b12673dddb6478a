package api

import "time"

type Config struct {
	RequestTimeout time.Duration `env:"API_REQUEST_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes   int64         `env:"API_MAX_BODY_BYTES" envDefault:"1048576"`
	HealthTimeout  time.Duration `env:"API_HEALTH_TIMEOUT" envDefault:"3s"`
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		MaxBodyBytes:   1 << 20,
		HealthTimeout:  3 * time.Second,
	}
}
