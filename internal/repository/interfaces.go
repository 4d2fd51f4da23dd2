// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/codestash/internal/model"
)

// UserRepository はユーザーデータの参照インターフェース。
// ユーザーの作成は外部認証サービスの責務のため、本サービスは読み取りのみ行う。
type UserRepository interface {
	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// CodeRepository はコード生成セッションの永続化インターフェース。
type CodeRepository interface {
	// CreateWithDetails はセッションとチャット・ファイルを同一トランザクションで作成する。
	// いずれかのINSERTが失敗した場合は全体をロールバックし、部分的なレコードを残さない。
	CreateWithDetails(ctx context.Context, code *model.Code) error

	// FindByIDWithDetails は指定IDのセッションをチャット・ファイル込みで取得する。
	// チャットはcreated_at昇順（同時刻はseq昇順）で並ぶ。見つからない場合はnilを返す。
	FindByIDWithDetails(ctx context.Context, id string) (*model.Code, error)

	// ListMetaByUserID は指定ユーザーのセッションメタデータ一覧をupdated_at降順で返す。
	ListMetaByUserID(ctx context.Context, userID string) ([]model.CodeMeta, error)

	// DeleteByID は指定IDのセッションを削除する。
	// chat_entries、code_filesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}
