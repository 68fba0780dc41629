package main

import (
	"fmt"
	"time"

	fastbreak "github.com/fastbreak-live/fastbreak-go"
	"go.uber.org/zap"
)

// newClient builds a realtime client from the CLI config, with the session
// token persisted under ~/.fastbreak so reconnects and repeat invocations
// keep the same identity.
func newClient() (*fastbreak.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	opts := []fastbreak.Option{}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, fastbreak.WithBaseURL(cfg.Default.BaseURL))
	}

	if path, err := fastbreak.DefaultSessionPath(); err == nil {
		opts = append(opts, fastbreak.WithSessionStore(fastbreak.NewFileSessionStore(path)))
	}

	if verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("cannot create logger: %w", err)
		}
		opts = append(opts, fastbreak.WithLogger(log))
	}

	return fastbreak.New(opts...), nil
}

// connectAndWait connects the client and blocks until the connection is
// open or the timeout elapses.
func connectAndWait(client *fastbreak.Client, timeout time.Duration) error {
	connected := make(chan struct{}, 1)
	client.OnConnect(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})

	client.Connect()

	select {
	case <-connected:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out connecting after %s", timeout)
	}
}
