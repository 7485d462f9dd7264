package core

import (
	"context"

	"github.com/groumap/stampcard/docstore"
)

// PermissionGate answers whether a staff member may stamp for a store.
type PermissionGate struct {
	store docstore.Store
}

func NewPermissionGate(store docstore.Store) *PermissionGate {
	return &PermissionGate{store: store}
}

// Authorize reports whether staffID is registered staff of storeID.
// A missing store or a lookup failure answers false; the gate fails
// closed rather than surfacing storage errors to the redemption path.
func (g *PermissionGate) Authorize(ctx context.Context, staffID, storeID string) bool {
	if staffID == "" || storeID == "" {
		return false
	}
	var account StoreAccount
	err := g.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Get(ColStores, storeID, &account)
	})
	if err != nil {
		return false
	}
	for _, id := range account.StaffIDs {
		if id == staffID {
			return true
		}
	}
	return false
}
