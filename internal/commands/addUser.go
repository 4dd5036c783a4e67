package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"depesha/internal/auth"
	"depesha/internal/config"
	"depesha/internal/content"
	"depesha/internal/storage"
)

// AddUser registers a new user directly against the database with a random
// generated password and prints the credentials. The server must not be
// running: bbolt holds an exclusive lock on the file.
func AddUser(username string, cfg *config.Config) error {
	if err := content.ValidateUsername(username); err != nil {
		return err
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("failed to open database (is the server running?): %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, store)
	if err != nil {
		return err
	}

	password, err := generatePassword()
	if err != nil {
		return err
	}

	creds, err := authService.AddUser(username, password)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	fmt.Printf("\nUser created successfully!\n")
	fmt.Printf("Username:  %s\n", creds.UserName)
	fmt.Printf("User ID:   %s\n", creds.ID)
	fmt.Printf("Password:  %s\n\n", password)
	fmt.Println("Please share these credentials with the user over a secure channel.")
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
