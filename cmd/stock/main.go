package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dev-aquilas225/stock-sub001/cmd/stock/cli"
	"github.com/Dev-aquilas225/stock-sub001/internal/app"
	"github.com/Dev-aquilas225/stock-sub001/migrations"
)

const usage = `usage: stock <command> [flags]

commands:
  serve           run the HTTP API (default)
  migrate         apply the embedded PostgreSQL schema
  reconcile       print the reconciliation report of an order
  receive-import  load a reception batch from CSV
  jobs            trigger|stats|scheduled|retry-archived
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(".env")
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("init runtime", slog.Any("error", err))
		os.Exit(1)
	}
	code := run(ctx, rt, command, args)
	rt.Close()
	os.Exit(code)
}

func run(ctx context.Context, rt *app.Runtime, command string, args []string) int {
	switch command {
	case "serve":
		return serve(ctx, rt)
	case "migrate":
		return migrate(ctx, rt)
	case "reconcile":
		return reconcile(ctx, rt, args)
	case "receive-import":
		return receiveImport(ctx, rt, args)
	case "jobs":
		return jobsCommand(ctx, rt, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}
}

func serve(ctx context.Context, rt *app.Runtime) int {
	logger := rt.Logger
	server := &http.Server{
		Addr:         rt.Config.AppAddr,
		Handler:      rt.Router(),
		ReadTimeout:  rt.Config.AppReadTimeout,
		WriteTimeout: rt.Config.AppWriteTimeout,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	failed := make(chan struct{})
	go func() {
		logger.Info("starting http server", slog.String("addr", rt.Config.AppAddr), slog.String("store", rt.Config.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			close(failed)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	select {
	case <-failed:
		return 1
	default:
		return 0
	}
}

func migrate(ctx context.Context, rt *app.Runtime) int {
	if rt.Pool == nil {
		fmt.Fprintln(os.Stderr, "migrate: STORE_DRIVER=postgres required")
		return 1
	}
	applied, err := migrations.Apply(ctx, rt.Pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	for _, name := range applied {
		fmt.Fprintf(os.Stdout, "applied %s\n", name)
	}
	return 0
}

func reconcile(ctx context.Context, rt *app.Runtime, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	orderID := fs.Int64("order", 0, "order id")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	command, err := cli.NewReconcileCLI(rt.Procurement)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return command.ReconcileCommand(ctx, cli.ReconcileOptions{OrderID: *orderID, JSONOutput: *asJSON})
}

func receiveImport(ctx context.Context, rt *app.Runtime, args []string) int {
	fs := flag.NewFlagSet("receive-import", flag.ContinueOnError)
	orderID := fs.Int64("order", 0, "order id")
	file := fs.String("file", "", "CSV file with line_id,qty_received,qty_damaged,comment; - reads stdin")
	mode := fs.String("mode", string(cli.ImportModeDry), "dry or apply")
	key := fs.String("key", "", "idempotency key of the batch")
	actor := fs.Int64("actor", 0, "actor id recorded in the audit log")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	command, err := cli.NewReceiveImportCLI(rt.Procurement)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return command.ImportCommand(ctx, cli.ReceiveImportOptions{
		OrderID:        *orderID,
		Mode:           cli.ImportMode(*mode),
		Source:         *file,
		IdempotencyKey: *key,
		ActorID:        *actor,
		JSONOutput:     *asJSON,
	})
}

func jobsCommand(ctx context.Context, rt *app.Runtime, args []string) int {
	if rt.Jobs == nil || rt.Inspector == nil {
		fmt.Fprintln(os.Stderr, "jobs: REDIS_ADDR and STORE_DRIVER=postgres required")
		return 1
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	command, err := cli.NewJobsCLI(rt.Jobs, rt.Inspector)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("jobs "+sub, flag.ContinueOnError)
	retention := fs.Duration("retention", rt.Config.IdempotencyRetain, "idempotency key retention for cleanup")
	size := fs.Int("size", 10, "page size for scheduled tasks")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	var out any
	switch sub {
	case "trigger":
		if fs.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "jobs trigger: task name required")
			return 2
		}
		out, err = command.Trigger(ctx, fs.Arg(0), *retention)
	case "stats":
		out, err = command.InspectQueue(ctx)
	case "scheduled":
		out, err = command.ListScheduled(ctx, *size)
	case "retry-archived":
		var moved int
		moved, err = command.RetryArchived(ctx)
		out = map[string]int{"moved": moved}
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", sub)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs %s: %v\n", sub, err)
		return 1
	}
	return printJSON(os.Stdout, out)
}

func printJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}
