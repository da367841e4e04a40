package main

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog/log"
)

type Config struct {
	SlidingWindow    time.Duration `toml:"slidingWindow"`
	PrometheusListen string        `toml:"prometheusListen"`
	Socket           string        `toml:"socket"`
	StreamFilter     string        `toml:"streamFilter"`
}

func defaultConfig() Config {
	return Config{
		SlidingWindow:    time.Second * 30,
		PrometheusListen: ":9273",
		Socket:           "/var/log/ams-edge.sock",
		StreamFilter:     "*",
	}
}

func parseConfig(path string, conf *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	err = toml.Unmarshal(data, conf)
	if err != nil {
		return err
	}
	log.Info().Msgf("reading config from %s", path)
	return nil
}
