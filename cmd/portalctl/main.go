// Command portalctl issues bearer tokens and pokes the job queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/rfq-portal/cmd/portalctl/cli"
)

const usage = `usage:
  portalctl token -role ROLE -user ID [-customer ID] [-ttl 8h]
  portalctl jobs trigger quotation:expire
  portalctl jobs trigger quotation:notify QUOTATION_ID
  portalctl jobs stats
  portalctl jobs scheduled [-n 10]`

// settings come from the same environment variables the server reads.
type settings struct {
	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"rfq-portal"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := envconfig.Process("", &s); err != nil {
		return settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	switch args[0] {
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "jobs":
		return runJobs(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := cli.TokenOptions{}
	fs.StringVar(&opts.Role, "role", "", "CUSTOMER, SALES, PLANNING or DIRECTOR")
	fs.Int64Var(&opts.UserID, "user", 0, "user id")
	fs.Int64Var(&opts.CustomerID, "customer", 0, "customer id for customer tokens")
	fs.DurationVar(&opts.TTL, "ttl", 8*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := loadSettings()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	opts.Secret = cfg.JWTSecret
	opts.Issuer = cfg.JWTIssuer
	token, err := cli.IssueToken(opts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runJobs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	cfg, err := loadSettings()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(stderr, usage)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "scheduled":
		fs := flag.NewFlagSet("scheduled", flag.ContinueOnError)
		fs.SetOutput(stderr)
		size := fs.Int("n", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		for _, t := range tasks {
			fmt.Fprintf(stdout, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
	return 0
}
