// gen-token mints bearer credentials signed with JWT_SECRET, one per line.
// Useful for load tests and for poking the sync endpoint by hand.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"websocket-kanban/api"
	"websocket-kanban/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var (
		role   string
		count  int
		prefix string
		start  int
		output string
		ttl    time.Duration
	)
	flags := pflag.NewFlagSet("gen-token", pflag.ContinueOnError)
	flags.StringVar(&role, "role", string(domain.RoleUser), "role claim: user or admin")
	flags.IntVar(&count, "count", 1, "number of credentials to mint")
	flags.StringVar(&prefix, "prefix", "user-", "user id prefix")
	flags.IntVar(&start, "start", 1, "first user id suffix")
	flags.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	flags.DurationVar(&ttl, "ttl", time.Hour, "credential lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	r := domain.Role(strings.ToLower(role))
	if r != domain.RoleUser && r != domain.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	if count <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	buf := bufio.NewWriter(w)

	auth := api.NewAuth(api.AuthConfig{
		Secret:   []byte(secret),
		TokenTTL: ttl,
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
	})
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s%d", prefix, start+i)
		tok, err := auth.Issue(domain.User{ID: id, Role: r, Email: id + "@example.com", Name: id})
		if err != nil {
			return fmt.Errorf("issue %s: %w", id, err)
		}
		if _, err := fmt.Fprintln(buf, tok); err != nil {
			return err
		}
	}
	return buf.Flush()
}
