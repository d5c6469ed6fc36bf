// Command tokengen mints a development JWT accepted by the chat server.
// Real tokens come from the game's login service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/auth"
	"github.com/lalith-99/stationchat/internal/config"
)

func main() {
	user := flag.String("user", "", "user id (uuid); random if empty")
	branch := flag.String("branch", "", "branch id the user belongs to (required)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *branch == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -branch <id> [-user <uuid>] [-ttl 24h]")
		os.Exit(2)
	}

	userID := uuid.New()
	if *user != "" {
		var err error
		if userID, err = uuid.Parse(*user); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -user: %v\n", err)
			os.Exit(2)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.GenerateToken(userID, *branch, cfg.JWTSecret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user_id=%s branch_id=%s\n", userID, *branch)
	fmt.Println(token)
}
