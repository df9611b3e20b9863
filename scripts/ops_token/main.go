package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/api"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/config"
)

// ops_token mints a bearer token for the mutating operator routes
// (kill switch engage/reset, trade start/stop) using JWT_SECRET.
//
// Usage:
//   go run ./scripts/ops_token -sub alice -ttl 8h
//   curl -H "Authorization: Bearer $(go run ./scripts/ops_token)" -X POST localhost:8080/api/kill-switch/engage

func main() {
	sub := flag.String("sub", "ops", "token subject")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	if cfg.JWTSecret == "dev-secret" {
		log.Println("⚠️ JWT_SECRET not set, signing with the development secret")
	}

	token, err := api.GenerateToken(*sub, cfg.JWTSecret, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
