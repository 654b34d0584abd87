package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/config"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/env"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/security"
)

func main() {
	env.SetupEnvFile()

	// keygen runs before the configuration exists
	if len(os.Args) > 1 && os.Args[1] == "keygen" {
		key, err := security.GenerateKey()
		if err != nil {
			log.Fatalf("[Agent] %v", err)
		}
		fmt.Println(key)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Agent] %v", err)
	}

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := NewApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("[Agent] %v", err)
	}
	defer a.Close()

	if err := a.Engine.Start(ctx); err != nil {
		// The API stays up so an operator can inspect the store and retry.
		log.Errorf("[Agent] Engine did not start: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.App.Listen(cfg.Addr())
	}()

	select {
	case <-ctx.Done():
		log.Info("[Agent] Shutting down")
	case err := <-errCh:
		log.Errorf("[Agent] Control API stopped: %v", err)
	}

	a.Engine.Stop()
	if err := a.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warnf("[Agent] Control API shutdown: %v", err)
	}
}

// runCommand handles the operator subcommands
func runCommand(cfg *config.Config, args []string) error {
	switch args[0] {
	case "token":
		if len(args) < 2 {
			return errors.New("usage: claimagent token <subject> [ttl-hours]")
		}
		if cfg.APIToken == "" {
			return errors.New("API_TOKEN must be set to sign operator tokens")
		}
		ttl := 12 * time.Hour
		if len(args) > 2 {
			hours, err := strconv.Atoi(args[2])
			if err != nil || hours <= 0 {
				return fmt.Errorf("invalid ttl %q", args[2])
			}
			ttl = time.Duration(hours) * time.Hour
		}
		token, err := security.GenerateOperatorToken(args[1], cfg.ProviderCode, ttl, cfg.APIToken)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}
	return fmt.Errorf("unknown command %q (available: token, keygen)", args[0])
}
