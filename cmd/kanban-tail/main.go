// kanban-tail prints sync events mirrored to Redis by the server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"websocket-kanban/config"
	"websocket-kanban/subscription"
)

func main() {
	var (
		redisURL string
		channel  string
		raw      bool
	)
	flags := pflag.NewFlagSet("kanban-tail", pflag.ExitOnError)
	flags.StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "redis URL or host:port connection string")
	flags.StringVar(&channel, "channel", subscription.DefaultChannel, "pub/sub channel to follow")
	flags.BoolVar(&raw, "json", false, "print raw JSON frames")
	_ = flags.Parse(os.Args[1:])

	if redisURL == "" {
		fmt.Fprintln(os.Stderr, "error: --redis or REDIS_URL is required")
		os.Exit(2)
	}
	opts, err := config.RedisConfig{URL: redisURL}.Options()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	rc := redis.NewClient(opts)
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New()
	logger.SetOutput(os.Stderr)
	subscription.Follow(ctx, logger, rc, channel, func(payload []byte) {
		if raw {
			fmt.Println(string(payload))
			return
		}
		printSummary(os.Stdout, payload, time.Now())
	})
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func printSummary(w io.Writer, payload []byte, at time.Time) {
	var f frame
	if err := sonic.Unmarshal(payload, &f); err != nil {
		fmt.Fprintf(w, "%s  <unparseable> %s\n", at.Format(time.TimeOnly), payload)
		return
	}
	fmt.Fprintf(w, "%s  %-13s %s\n", at.Format(time.TimeOnly), f.Event, describe(f.Data))
}

func describe(data any) string {
	switch v := data.(type) {
	case string:
		return "id=" + v
	case map[string]any:
		s := fmt.Sprintf("id=%v", v["id"])
		if title, ok := v["title"].(string); ok {
			s += fmt.Sprintf(" title=%q", title)
		}
		if col, ok := v["column"].(string); ok {
			s += " column=" + col
		}
		if owner, ok := v["userId"].(string); ok {
			s += " owner=" + owner
		}
		return s
	default:
		return fmt.Sprint(v)
	}
}
