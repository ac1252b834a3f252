// Command capsul-worker is the worker entry point of spec.md §6: a single
// positional argument (the execution id), reading its database connection
// descriptor and scratch directory from CAPSUL_DATABASE/CAPSUL_TMP, and
// exiting 0 on any completed run — success or a cleanly recorded job
// failure — reserving a non-zero exit for a catastrophic worker-level
// failure (spec.md §7 category 3/5: scheduling/infrastructure errors).
// Grounded on cmd/runner's bootstrap-then-serve shape, adapted from an
// HTTP server to a claim/execute/complete loop over execdb.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/capsul-go/capsul/common/db"
	"github.com/capsul-go/capsul/common/logger"
	redisclient "github.com/capsul-go/capsul/common/redis"
	"github.com/capsul-go/capsul/engine"
	"github.com/capsul-go/capsul/execdb/notify"
	"github.com/capsul-go/capsul/execdb/postgres"

	"github.com/redis/go-redis/v9"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: capsul-worker <execution-id>")
		os.Exit(1)
	}
	executionID := os.Args[1]

	descriptor := os.Getenv("CAPSUL_DATABASE")
	workdir := os.Getenv("CAPSUL_TMP")
	if descriptor == "" || workdir == "" {
		fmt.Fprintln(os.Stderr, "CAPSUL_DATABASE and CAPSUL_TMP must both be set")
		os.Exit(1)
	}

	log := logger.New(envOr("CAPSUL_LOG_LEVEL", "info"), envOr("CAPSUL_LOG_FORMAT", "text"))
	ctx := context.Background()

	conn, err := db.Open(ctx, descriptor, log)
	if err != nil {
		log.Error("worker could not connect to execution database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	var notifier *notify.Notifier
	if redisAddr := os.Getenv("CAPSUL_NOTIFY_REDIS"); redisAddr != "" {
		rc := redisclient.NewClient(redis.NewClient(&redis.Options{Addr: redisAddr}), log)
		notifier = notify.New(rc, log)
	}

	store := postgres.New(conn, notifier, log)
	engineID := envOr("CAPSUL_ENGINE_ID", "capsul-worker-"+uuid.NewString())

	if err := engine.RunLocal(ctx, store, executionID, engineID, workdir, log, 0); err != nil {
		log.Error("worker loop failed", "execution_id", executionID, "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
