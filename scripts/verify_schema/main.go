package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// verify_schema checks that a runtime database carries the tables and
// columns the router, state manager and decision writer rely on.
//
// Usage:
//   go run ./scripts/verify_schema ./data/gigatrader.db

var required = map[string][]string{
	"orders":    {"client_order_id", "venue_order_id", "intent_key", "status", "filled_qty"},
	"positions": {"symbol", "qty", "notional"},
	"decisions": {"id", "symbol", "expected_value", "filters", "status"},
}

func main() {
	dbPath := "./data/gigatrader.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	ok := true
	for table, cols := range required {
		var schema string
		err := db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&schema)
		if err != nil {
			fmt.Printf("❌ %s table MISSING (%v)\n", table, err)
			ok = false
			continue
		}
		fmt.Printf("✓ %s table exists\n", table)
		for _, c := range cols {
			if !strings.Contains(schema, c) {
				fmt.Printf("  ❌ column %s.%s MISSING\n", table, c)
				ok = false
			}
		}
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("\nSchema OK")
}
