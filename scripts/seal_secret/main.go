package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/crypto"
)

// seal_secret seals a credential for .env with MASTER_ENCRYPTION_KEY, or
// prints a fresh key.
//
// Usage:
//   go run ./scripts/seal_secret -genkey
//   echo -n "$SECRET" | go run ./scripts/seal_secret
//   go run ./scripts/seal_secret -open 'ENC[v1]:...'

func main() {
	genKey := flag.Bool("genkey", false, "print a new base64 key and exit")
	open := flag.String("open", "", "open a sealed value instead of sealing stdin")
	flag.Parse()

	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("generate key: %v", err)
		}
		fmt.Println(key)
		return
	}

	_ = godotenv.Load()
	ring, err := crypto.LoadKeyring(os.Getenv)
	if err != nil {
		log.Fatalf("❌ %v (run with -genkey and export %s)", err, crypto.KeyEnv)
	}

	if *open != "" {
		plain, err := ring.Open(*open)
		if err != nil {
			log.Fatalf("❌ open: %v", err)
		}
		fmt.Println(plain)
		return
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("❌ read stdin: %v", err)
	}
	sealed, err := ring.Seal(strings.TrimRight(line, "\r\n"))
	if err != nil {
		log.Fatalf("❌ seal: %v", err)
	}
	fmt.Println(sealed)
}
