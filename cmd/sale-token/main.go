// Command sale-token signs a bearer token for a caller identity using the
// configured JWT secret.
package main

import (
	"flag"
	"fmt"
	"log"

	"token-sale/sale-backend/internal/config"
	"token-sale/sale-backend/pkg/security"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	subject := flag.String("subject", "", "caller identity (sale admin or investor)")
	role := flag.String("role", "investor", "role claim")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tokens := security.NewTokenService(cfg.Security.JWTSecret, cfg.Security.Issuer, cfg.Security.TokenTTL)
	token, err := tokens.Issue(*subject, *role)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
