package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/core/ports"
)

type ActorUseCase struct {
	permissions ports.PermissionStore
}

func NewActorUseCase(permissions ports.PermissionStore) *ActorUseCase {
	return &ActorUseCase{permissions: permissions}
}

// ResolveActor looks up the permission set server-side; nothing the client sends is trusted.
func (uc *ActorUseCase) ResolveActor(ctx context.Context, userID string) (domain.Actor, error) {
	if err := requireActor("resolve actor", domain.Actor{UserID: userID}); err != nil {
		return domain.Actor{}, err
	}
	perms, err := uc.permissions.PermissionsFor(ctx, userID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("load permissions: %w", err)
	}
	return domain.NewActor(userID, perms...), nil
}
