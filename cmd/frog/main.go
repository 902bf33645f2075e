// Command frog runs the card authorization and vault API.
//
//	frog [serve]                     run the HTTP API and the settlement worker
//	frog migrate                     apply schema migrations and exit
//	frog execute -payment <uuid>     ask a running server to settle one payment
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/the-pines/frog/internal/app/runtime"
	"github.com/the-pines/frog/internal/config"
	"github.com/the-pines/frog/internal/database"
	"github.com/the-pines/frog/internal/httputil"
	"github.com/the-pines/frog/internal/platform/migrations"
	"github.com/the-pines/frog/pkg/logger"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "migrate":
		err = migrate()
	case "execute":
		err = execute(args)
	default:
		err = fmt.Errorf("unknown command %q (want serve, migrate or execute)", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "frog %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}

func migrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := runtime.NewLogger(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Apply(db.DB); err != nil {
		return err
	}
	versions, err := migrations.Versions()
	if err != nil {
		return err
	}
	log.WithField("latest", versions[len(versions)-1]).Info("migrations applied")
	return nil
}

func execute(args []string) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	var (
		paymentID = fs.String("payment", "", "payment id to settle")
		baseURL   = fs.String("url", "http://localhost:8080", "frog server base URL")
		serviceID = fs.String("service", "ops", "service id placed in the token")
		timeout   = fs.Duration("timeout", 3*time.Minute, "request timeout")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *paymentID == "" {
		return fmt.Errorf("-payment is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewDefault("frog-execute")

	client := httputil.NewServiceClient(httputil.ServiceClientConfig{
		Secret:    []byte(cfg.Auth.ServiceTokenSecret),
		ServiceID: *serviceID,
		BaseURL:   *baseURL,
		Timeout:   *timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := client.Post(ctx, "/api/blockchain/execute-payment", map[string]string{"paymentId": *paymentID})
	if err != nil {
		return err
	}
	var out struct {
		OK     bool   `json:"ok"`
		TxHash string `json:"txHash"`
	}
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return err
	}
	log.WithField("payment", *paymentID).WithField("tx_hash", out.TxHash).Info("payment settled")
	return nil
}
