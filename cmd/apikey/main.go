// Command apikey generates a service API key and the bcrypt hash to put in
// ADMIN_API_KEY_HASH. With -user it prints a short-lived access token signed
// with JWT_SECRET instead, for exercising the app routes locally.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/churchapp/notifications/internal/auth"
)

func main() {
	userID := flag.Int64("user", 0, "print an access token for this user id")
	ttl := flag.Duration("ttl", time.Hour, "access token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	if *userID > 0 {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
			os.Exit(1)
		}
		token, err := auth.NewJWTManager(secret, *ttl).GenerateAccessToken(*userID, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	key, err := auth.GenerateSecureToken(32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key:            %s\n", key)
	fmt.Printf("ADMIN_API_KEY_HASH: %s\n", hash)
}
