// Command bot attaches to the coordination hub as one agent, optionally sends raw
// coordination lines, and prints what it hears.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"agentcraft.ai/internal/bus"
	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/protocol"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8081/bus", "hub url")
		name  = flag.String("name", "bot", "agent id")
		to    = flag.String("to", "", "recipient of -send lines (empty broadcasts)")
		send  = flag.String("send", "", "coordination lines to send, separated by ';' (e.g. \"[NEED] hoe\")")
		every = flag.Duration("poll", 200*time.Millisecond, "poll period")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ep, err := bus.DialWS(ctx, *url, *name, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer ep.Close()

	clk := clock.Real{}
	for _, line := range strings.Split(*send, ";") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m, err := protocol.Parse(line)
		if err != nil {
			logger.Fatalf("parse %q: %v (code %s)", line, err, protocol.CodeOf(err))
		}
		env := bus.NewEnvelope(clk, *name, *to, m)
		if err := ep.Publish(ctx, env); err != nil {
			logger.Fatalf("publish: %v", err)
		}
		logger.Printf("sent %s %s", env.ID, env.Text)
	}

	t := time.NewTicker(*every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		envs, err := ep.Poll(ctx)
		if errors.Is(err, bus.ErrClosed) {
			return
		}
		if err != nil {
			logger.Printf("poll: %v", err)
		}
		for _, e := range envs {
			kind := "chat"
			if protocol.IsCoordination(e.Text) {
				if _, err := protocol.Parse(e.Text); err != nil {
					kind = "malformed:" + protocol.CodeOf(err)
				} else {
					kind = "coord"
				}
			}
			target := e.To
			if target == "" {
				target = "*"
			}
			logger.Printf("%-10s %s -> %s: %s", kind, e.From, target, e.Text)
		}
	}
}
