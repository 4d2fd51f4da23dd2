// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// StatusはレスポンスのHTTPステータスコードに対応する。
// サービス層の境界を越えるエラーはすべてこの型に正規化される。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ（そのままレスポンスに載る）
	Status  int    // HTTPステータスコード
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeCodeNotFound    = "CODE_NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewUnauthenticatedError はトークン検証失敗エラーを生成する。
// statusとmessageは認証サービスの応答をそのまま引き継ぐ。
func NewUnauthenticatedError(status int, message string) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthenticated,
		Message: message,
		Status:  status,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeUserNotFound,
		Message: "User not found",
		Status:  404,
	}
}

// NewCodeNotFoundError はセッションが見つからない場合のエラーを生成する。
func NewCodeNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeCodeNotFound,
		Message: "Code not found",
		Status:  404,
	}
}

// NewUnauthorizedError は所有者不一致エラーを生成する。
// 存在有無を開示しないため、トークン検証失敗と同じ401を返す。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: "Unauthorized",
		Status:  401,
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Status:  400,
	}
}

// NewInternalError は予期しない失敗を500エラーに正規化する。
func NewInternalError(err error) *APIError {
	message := "An Unexpected error occurred"
	if err != nil {
		message = err.Error()
	}
	return &APIError{
		Code:    ErrCodeInternal,
		Message: message,
		Status:  500,
	}
}
