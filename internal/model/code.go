// Package model はドメインモデルを定義する。
package model

import "time"

// ChatKind はチャットエントリの種別を表す。
type ChatKind string

const (
	// ChatKindPrompt はユーザーが入力したプロンプト。
	ChatKindPrompt ChatKind = "PROMPT"
	// ChatKindResponse は生成モデルの応答。
	ChatKindResponse ChatKind = "RESPONSE"
)

// ChatEntry は生成セッション内の1つのやり取りを表す。
// 取得時はCreatedAt昇順（同時刻はSeq昇順）で並ぶ。
type ChatEntry struct {
	ID        string
	CodeID    string
	Message   string
	Kind      ChatKind
	Seq       int
	CreatedAt time.Time
}

// FileEntry は生成セッションに属する1ファイルを表す。
// Contentは検証・変換を行わずそのまま保存する。
type FileEntry struct {
	ID      string
	CodeID  string
	Name    string
	Path    string
	Content string
}

// Code は1回のコード生成セッションの集約ルートを表す。
// チャットとファイルはセッションと同一トランザクションで作成され、
// セッション削除時にカスケード削除される。OwnerIDは作成時に1度だけ設定される。
type Code struct {
	ID        string
	Title     string
	OwnerID   string
	Chat      []ChatEntry
	Files     []FileEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultTitle はタイトル未指定時に使用する既定値。
const DefaultTitle = "Untitled"

// CodeMeta は一覧表示用のセッションメタデータを表す。
// チャットとファイルは含まない。
type CodeMeta struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}
