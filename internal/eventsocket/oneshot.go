package eventsocket

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Exec opens a dedicated connection, sends "api <command>" once it is logged
// in, and hangs up without waiting for the reply. If the login does not
// complete within cfg.APITimeout the connection is abandoned.
func Exec(ctx context.Context, cfg Config, command string, logger *zerolog.Logger) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
	defer cancel()

	c := New(cfg, logger)
	go func() { _ = c.Run(ctx) }()

	var sendErr error
	sent := false
	for n := range c.Notices() {
		if n.Kind == NoticeConnect && !sent {
			sent = true
			sendErr = c.Send("api " + command)
			cancel()
		}
	}

	if !sent {
		return fmt.Errorf("api %q: %w", command, ctx.Err())
	}
	if sendErr != nil {
		return fmt.Errorf("api %q: %w", command, sendErr)
	}
	return nil
}
