package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/codestash/internal/model"
)

// PostgresCodeRepo はPostgreSQLを使用したコード生成セッションリポジトリ。
type PostgresCodeRepo struct {
	db *sql.DB
}

// NewPostgresCodeRepo はPostgresCodeRepoを生成する。
func NewPostgresCodeRepo(db *sql.DB) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: db}
}

// CreateWithDetails はセッションとチャット・ファイルを同一トランザクションで作成する。
// いずれかのINSERTが失敗した場合は全体をロールバックし、部分的なレコードを残さない。
func (r *PostgresCodeRepo) CreateWithDetails(ctx context.Context, code *model.Code) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// セッション本体を作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO codes (id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		code.ID, code.OwnerID, code.Title, code.CreatedAt, code.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert code: %w", err)
	}

	// チャットエントリを作成
	for _, entry := range code.Chat {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chat_entries (id, code_id, message, kind, seq, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID, code.ID, entry.Message, entry.Kind, entry.Seq, entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat entry: %w", err)
		}
	}

	// ファイルを作成
	for _, file := range code.Files {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO code_files (id, code_id, name, path, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			file.ID, code.ID, file.Name, file.Path, file.Content, code.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert code file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindByIDWithDetails は指定IDのセッションをチャット・ファイル込みで取得する。
// チャットはcreated_at昇順（同時刻はseq昇順）で並ぶ。見つからない場合はnilを返す。
func (r *PostgresCodeRepo) FindByIDWithDetails(ctx context.Context, id string) (*model.Code, error) {
	code := &model.Code{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM codes WHERE id = $1`,
		id,
	).Scan(&code.ID, &code.OwnerID, &code.Title, &code.CreatedAt, &code.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find code: %w", err)
	}

	chat, err := r.listChatEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	code.Chat = chat

	files, err := r.listFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	code.Files = files

	return code, nil
}

// listChatEntries はセッションのチャット履歴を取得順で返す。
func (r *PostgresCodeRepo) listChatEntries(ctx context.Context, codeID string) ([]model.ChatEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, code_id, message, kind, seq, created_at
		 FROM chat_entries
		 WHERE code_id = $1
		 ORDER BY created_at ASC, seq ASC`,
		codeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat entries: %w", err)
	}
	defer rows.Close()

	var entries []model.ChatEntry
	for rows.Next() {
		var entry model.ChatEntry
		if err := rows.Scan(&entry.ID, &entry.CodeID, &entry.Message, &entry.Kind, &entry.Seq, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat entries: %w", err)
	}

	return entries, nil
}

// listFiles はセッションのファイル一覧を返す。順序は保証しない。
func (r *PostgresCodeRepo) listFiles(ctx context.Context, codeID string) ([]model.FileEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, code_id, name, path, content
		 FROM code_files
		 WHERE code_id = $1`,
		codeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list code files: %w", err)
	}
	defer rows.Close()

	var files []model.FileEntry
	for rows.Next() {
		var file model.FileEntry
		if err := rows.Scan(&file.ID, &file.CodeID, &file.Name, &file.Path, &file.Content); err != nil {
			return nil, fmt.Errorf("failed to scan code file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate code files: %w", err)
	}

	return files, nil
}

// ListMetaByUserID は指定ユーザーのセッションメタデータ一覧をupdated_at降順で返す。
func (r *PostgresCodeRepo) ListMetaByUserID(ctx context.Context, userID string) ([]model.CodeMeta, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, updated_at
		 FROM codes
		 WHERE user_id = $1
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	defer rows.Close()

	var metas []model.CodeMeta
	for rows.Next() {
		var meta model.CodeMeta
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan code meta: %w", err)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate code metas: %w", err)
	}

	return metas, nil
}

// DeleteByID は指定IDのセッションを削除する。
// chat_entries、code_filesはCASCADE削除される。
func (r *PostgresCodeRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM codes WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete code: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("code not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ CodeRepository = (*PostgresCodeRepo)(nil)
