// Command token issues bearer tokens for the monitoring API
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"callguard/internal/config"
	"callguard/internal/middleware"
)

func main() {
	subject := flag.String("subject", "dashboard", "token subject (device or user id)")
	role := flag.String("role", "client", "role claim")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
	configPath := flag.String("config", "configs/config.yml", "config file holding auth.jwt_secret")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	secret := os.Getenv("CALLGUARD_JWT_SECRET")
	if secret == "" {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to load config:", err)
			os.Exit(1)
		}
		secret = cfg.Auth.JWTSecret
	}
	if secret == "" {
		fmt.Fprintln(os.Stderr, "no JWT secret: set CALLGUARD_JWT_SECRET or auth.jwt_secret")
		os.Exit(1)
	}

	token, expiresAt, err := middleware.IssueToken([]byte(secret), *subject, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
