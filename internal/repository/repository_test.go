package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/db"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func TestCreateUserAndAccount(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	pool, err := db.Connect(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	queries := New(pool)
	ctx := context.Background()

	userID := uuid.New()
	user, err := queries.CreateUser(ctx, CreateUserParams{
		ID:        ToPgUUID(userID),
		Username:  "testuser_" + userID.String()[:8],
		Email:     "test_" + userID.String()[:8] + "@example.com",
		Role:      "user",
		KYCStatus: domain.KYCUnverified,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	dbUser, err := queries.GetUser(ctx, ToPgUUID(user.ID))
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if dbUser.ID != user.ID {
		t.Errorf("Expected user ID %s, got %s", user.ID, dbUser.ID)
	}

	accountID := uuid.New()
	account, err := queries.CreateAccount(ctx, CreateAccountParams{
		ID:       ToPgUUID(accountID),
		UserID:   ToPgUUID(user.ID),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	dbAccount, err := queries.GetAccount(ctx, ToPgUUID(account.ID))
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if dbAccount.ID != account.ID {
		t.Errorf("Expected account ID %s, got %s", account.ID, dbAccount.ID)
	}
	if dbAccount.Balance != 0 {
		t.Errorf("Expected balance 0, got %d", dbAccount.Balance)
	}
}
