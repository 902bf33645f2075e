// Command seed registers a wallet user and links an issued card to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/storage/postgres"
	"github.com/the-pines/frog/internal/config"
	"github.com/the-pines/frog/internal/database"
	"github.com/the-pines/frog/internal/httputil"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Path to .env with DATABASE_URL")
		address = flag.String("address", "", "Wallet address of the cardholder")
		name    = flag.String("name", "", "Display name")
		cardID  = flag.String("card", "", "Stripe issuing card id (ic_...)")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}
	if !httputil.IsAddress(*address) {
		log.Fatalf("-address must be a 0x-prefixed wallet address, got %q", *address)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatalf("DATABASE_URL missing (checked environment and %s)", *envFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Open(ctx, config.DatabaseConfig{DSN: dsn})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	store := postgres.New(db)

	u, err := store.EnsureUser(ctx, user.User{Name: *name, Address: *address, Provider: user.ProviderWallet})
	if err != nil {
		log.Fatalf("ensure user: %v", err)
	}
	fmt.Printf("user %s (%s)\n", u.ID, u.Address)

	if *cardID == "" {
		return
	}
	c, err := store.CreateCard(ctx, card.Card{UserID: u.ID, StripeCardID: *cardID})
	if err != nil {
		log.Fatalf("create card: %v", err)
	}
	fmt.Printf("card %s -> %s\n", c.ID, c.StripeCardID)
}
