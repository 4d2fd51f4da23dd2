package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/codestash/internal/model"
	"github.com/hitoshi/codestash/internal/repository"
)

// IdentityResolver はアクセストークンから内部ユーザーを解決する。
// トークン検証とユーザー参照の2往復を1つの能力に束ね、
// 「検証が成功するまでストアに触れない」順序をここで保証する。
type IdentityResolver struct {
	verifier TokenVerifier
	users    repository.UserRepository
}

// NewIdentityResolver はIdentityResolverを生成する。
func NewIdentityResolver(verifier TokenVerifier, users repository.UserRepository) *IdentityResolver {
	return &IdentityResolver{
		verifier: verifier,
		users:    users,
	}
}

// Resolve はトークンを検証し、対応する内部ユーザーを返す。
// 検証失敗は認証サービスのエラーをそのまま返す。検証前にユーザーテーブルへは一切アクセスしない。
// 検証済みメールアドレスに対応するユーザーが存在しない場合は404を返す。
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (*model.User, error) {
	identity, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := r.users.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}
