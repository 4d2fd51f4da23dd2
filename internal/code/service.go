// Package code はコード生成セッションのアクセス制御と取得のドメインロジックを提供する。
package code

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/codestash/internal/model"
	"github.com/hitoshi/codestash/internal/repository"
)

// IdentityResolver はアクセストークンから内部ユーザーを解決するインターフェース。
// auth.IdentityResolverの部分集合として定義する。
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*model.User, error)
}

// CreatePayload はセッション作成の入力を表す。
// Filesは形状以外の検証を行わずそのまま保存される。
type CreatePayload struct {
	Title    string
	Files    []model.FileEntry
	Response string
}

// Service はコード生成セッションのサービス層。
// すべての操作はトークン検証 → ユーザー解決 → ストア操作の順で実行され、
// どの段階の失敗も型付きエラー（*model.APIError）として呼び出し元に返る。
type Service struct {
	resolver IdentityResolver
	codes    repository.CodeRepository
}

// NewService はServiceを生成する。
func NewService(resolver IdentityResolver, codes repository.CodeRepository) *Service {
	return &Service{
		resolver: resolver,
		codes:    codes,
	}
}

// Create はセッションを作成し、新規セッションのIDを返す。
// チャットはプロンプト→レスポンスの固定2エントリ、タイトル未指定時は"Untitled"となる。
// セッション・チャット・ファイルは1トランザクションで作成され、失敗時は何も残らない。
func (s *Service) Create(ctx context.Context, accessToken string, payload CreatePayload, prompt string) (string, error) {
	user, err := s.resolver.Resolve(ctx, accessToken)
	if err != nil {
		return "", normalizeError(err)
	}

	title := payload.Title
	if title == "" {
		title = model.DefaultTitle
	}

	now := time.Now()
	codeID := uuid.New().String()

	newCode := &model.Code{
		ID:      codeID,
		Title:   title,
		OwnerID: user.ID,
		Chat: []model.ChatEntry{
			{
				ID:        uuid.New().String(),
				CodeID:    codeID,
				Message:   prompt,
				Kind:      model.ChatKindPrompt,
				Seq:       0,
				CreatedAt: now,
			},
			{
				ID:        uuid.New().String(),
				CodeID:    codeID,
				Message:   payload.Response,
				Kind:      model.ChatKindResponse,
				Seq:       1,
				CreatedAt: now,
			},
		},
		Files:     copyFiles(codeID, payload.Files),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.codes.CreateWithDetails(ctx, newCode); err != nil {
		return "", normalizeError(fmt.Errorf("failed to create code session: %w", err))
	}

	slog.Info("code session created",
		slog.String("code_id", codeID),
		slog.String("user_id", user.ID),
		slog.Int("file_count", len(newCode.Files)),
	)

	return codeID, nil
}

// Get は指定IDのセッションをチャット・ファイル込みで返す。
// セッションが存在しない場合は404、呼び出し元が所有者でない場合は401を返す。
// 非所有者へのエラーにはセッションの内容を一切含めない。
func (s *Service) Get(ctx context.Context, accessToken, id string) (*model.Code, error) {
	user, err := s.resolver.Resolve(ctx, accessToken)
	if err != nil {
		return nil, normalizeError(err)
	}

	found, err := s.codes.FindByIDWithDetails(ctx, id)
	if err != nil {
		return nil, normalizeError(fmt.Errorf("failed to load code session: %w", err))
	}
	if found == nil {
		return nil, model.NewCodeNotFoundError()
	}
	if found.OwnerID != user.ID {
		return nil, model.NewUnauthorizedError()
	}

	return found, nil
}

// ListMeta は呼び出し元が所有するセッションのメタデータ一覧をupdated_at降順で返す。
func (s *Service) ListMeta(ctx context.Context, accessToken string) ([]model.CodeMeta, error) {
	user, err := s.resolver.Resolve(ctx, accessToken)
	if err != nil {
		return nil, normalizeError(err)
	}

	metas, err := s.codes.ListMetaByUserID(ctx, user.ID)
	if err != nil {
		return nil, normalizeError(fmt.Errorf("failed to list code sessions: %w", err))
	}

	return metas, nil
}

// Delete は指定IDのセッションを削除する。
// 取得と同じ存在確認・所有者チェックを経る。チャット・ファイルはCASCADE削除される。
func (s *Service) Delete(ctx context.Context, accessToken, id string) error {
	user, err := s.resolver.Resolve(ctx, accessToken)
	if err != nil {
		return normalizeError(err)
	}

	found, err := s.codes.FindByIDWithDetails(ctx, id)
	if err != nil {
		return normalizeError(fmt.Errorf("failed to load code session: %w", err))
	}
	if found == nil {
		return model.NewCodeNotFoundError()
	}
	if found.OwnerID != user.ID {
		return model.NewUnauthorizedError()
	}

	if err := s.codes.DeleteByID(ctx, id); err != nil {
		return normalizeError(fmt.Errorf("failed to delete code session: %w", err))
	}

	slog.Info("code session deleted",
		slog.String("code_id", id),
		slog.String("user_id", user.ID),
	)

	return nil
}

// copyFiles は入力ファイルを新規セッションの行として複製する。内容の検証・変換は行わない。
func copyFiles(codeID string, files []model.FileEntry) []model.FileEntry {
	copied := make([]model.FileEntry, len(files))
	for i, f := range files {
		copied[i] = model.FileEntry{
			ID:      uuid.New().String(),
			CodeID:  codeID,
			Name:    f.Name,
			Path:    f.Path,
			Content: f.Content,
		}
	}
	return copied
}

// normalizeError はサービス境界を越えるエラーを*model.APIErrorに正規化する。
// 型付きエラーはそのまま通し、それ以外は500として扱う。
func normalizeError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	slog.Error("unexpected service error", slog.String("error", err.Error()))
	return model.NewInternalError(err)
}
