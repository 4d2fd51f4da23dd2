// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// ユーザーの作成・アクセストークンの発行は外部の認証サービスが担い、
// 本サービスはメールアドレスによる参照のみを行う。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VerifiedIdentity はアクセストークンの検証によって得られた本人情報を表す。
// 外部認証サービスのレスポンスに対応する。
type VerifiedIdentity struct {
	Email string
	Name  string
}
