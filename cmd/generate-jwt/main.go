package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"nvct-backend/internal/config"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/models"
)

// Issues an admin token without the login round trip, for operators and scripts.
func main() {
	configPath := flag.String("config", "", "config file")
	username := flag.String("user", "admin", "token subject")
	caps := flag.String("caps", models.CapabilityAdmin, "comma separated capabilities")
	ttl := flag.Duration("ttl", 0, "token lifetime (default from config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Admin.JWTSecret == "" {
		fmt.Println("ADMIN_JWT_SECRET is not configured")
		os.Exit(1)
	}

	lifetime := cfg.Admin.TokenTTL()
	if *ttl > 0 {
		lifetime = *ttl
	}
	user := &models.AdminUser{
		Username:     *username,
		IsAdmin:      strings.Contains(*caps, models.CapabilityAdmin),
		Capabilities: *caps,
	}

	tokenString, expiresAt, err := middleware.NewTokenManager(cfg.Admin.JWTSecret, lifetime).Issue(user)
	if err != nil {
		fmt.Printf("Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("Admin JWT Token")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Printf("  User:         %s\n", user.Username)
	fmt.Printf("  Capabilities: %s\n", strings.Join(user.CapabilityList(), ", "))
	fmt.Printf("  Expires:      %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://%s/api/networks/current\n", tokenString, cfg.Server.Addr())
}
