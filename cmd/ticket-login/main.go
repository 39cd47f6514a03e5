package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exstem-composer/internal/api"
	"github.com/stemsi/exstem-composer/internal/config"
	"github.com/stemsi/exstem-composer/internal/identity"
	"github.com/stemsi/exstem-composer/internal/logger"
)

func main() {
	logout := flag.Bool("logout", false, "close the server session after checking the ticket")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()

	client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, log)
	ids := identity.NewService(client, log, nil)

	// ─── CLI Input ─────────────────────────────────────────────────────
	fmt.Fprintln(os.Stderr, "=== Ticket Login ===")
	ticket, err := identity.PromptTicket(os.Stdin, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error reading ticket")
		os.Exit(1)
	}
	if ticket == "" {
		fmt.Fprintln(os.Stderr, "Error: Ticket is required")
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	uc, err := ids.TicketLogin(ctx, ticket)
	if err != nil {
		log.Fatal().Err(err).Msg("Ticket login failed")
	}

	sc, ok := uc.SessionContext()
	out := struct {
		User    identity.User            `json:"user"`
		Role    identity.Role            `json:"role"`
		Session *identity.SessionContext `json:"session,omitempty"`
	}{User: uc.User, Role: uc.Role}
	if ok {
		out.Session = &sc
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("Failed to print session context")
	}

	if *logout {
		if err := ids.Logout(ctx); err != nil {
			log.Fatal().Err(err).Msg("Logout failed")
		}
		fmt.Fprintln(os.Stderr, "Session closed.")
	}
}
