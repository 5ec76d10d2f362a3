// One-off operational tool: revoke every token a user holds, straight against
// the database. For incident response when the API itself is unavailable.
//
// Usage: go run scripts/revoke_user_tokens.go <username>
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/internal/services"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: go run scripts/revoke_user_tokens.go <username>")
		os.Exit(1)
	}
	username := os.Args[1]

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := models.InitDB(&cfg.Database); err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	db := models.GetDB()

	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		fmt.Printf("User %q not found: %v\n", username, err)
		os.Exit(1)
	}

	blacklist := services.NewBlacklistService(db, services.InitRedis(&cfg.Redis))
	tokens := services.NewTokenService(db, blacklist, &cfg.JWT, &cfg.Tokens)

	count, err := tokens.RevokeAllForUser(context.Background(), user.ID, models.RevokeReasonManual, services.ClientInfo{})
	if err != nil {
		fmt.Printf("Revocation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Revoked %d token(s) for user %q (id %d)\n", count, username, user.ID)
}
