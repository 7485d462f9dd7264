package main

import (
	"context"
	"fmt"
	"log"

	"github.com/groumap/stampcard/core"
	"github.com/groumap/stampcard/docstore"
)

func main() {
	ctx := context.Background()
	store := docstore.NewMemory()

	if err := store.Create(ctx, core.ColUsers, "user-123", core.UserAccount{ID: "user-123"}); err != nil {
		log.Fatalf("Failed to seed user: %v", err)
	}
	seedStore := core.StoreAccount{
		ID:       "store-1",
		Name:     "Corner Coffee",
		StaffIDs: []string{"staff-9"},
	}
	if err := store.Create(ctx, core.ColStores, "store-1", seedStore); err != nil {
		log.Fatalf("Failed to seed store: %v", err)
	}

	codec, err := core.NewCodec("my-secret-key-12345", nil)
	if err != nil {
		log.Fatalf("Failed to create codec: %v", err)
	}
	svc, err := core.NewService(core.Config{Store: store, Codec: codec})
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	issued, err := svc.IssueToken(ctx, "user-123")
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("Issued QR Token:\n")
	fmt.Printf("  Token: %s\n", issued.Token)
	fmt.Printf("  Expires At (epoch ms): %d\n", issued.ExpiresAt)
	fmt.Printf("\nUse this token in a QR code!\n\n")

	result, err := svc.Redeem(ctx, "staff-9", issued.Token, "store-1")
	if err != nil {
		log.Fatalf("Failed to redeem: %v", err)
	}

	fmt.Printf("Redemption result:\n")
	fmt.Printf("  Points Earned: %d\n", result.PointsEarned)
	fmt.Printf("  New Total Points: %d\n", result.NewTotalPoints)
	fmt.Printf("  Gold Stamps: %d\n", result.NewGoldStamps)
	fmt.Printf("  New Badges: %v\n", result.EarnedBadges)

	if _, err := svc.Redeem(ctx, "staff-9", issued.Token, "store-1"); err != nil {
		fmt.Printf("\nSecond redeem rejected as expected: %v\n", err)
	}
}
