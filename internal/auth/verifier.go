// Package auth はアクセストークンの検証と本人解決を提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/codestash/internal/model"
)

// TokenVerifier はアクセストークン検証のインターフェース。
// トークン発行は外部認証サービスの責務であり、本サービスは検証のみを行う。
// 検証失敗時は認証サービスのステータスとメッセージを引き継いだ*model.APIErrorを返す。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*model.VerifiedIdentity, error)
}

// HTTPVerifierConfig はHTTPTokenVerifierの設定。
type HTTPVerifierConfig struct {
	VerifyURL string        // 認証サービスの検証エンドポイント
	Timeout   time.Duration // リクエストタイムアウト

	// テスト用にオーバーライド可能なHTTPクライアント
	Client *http.Client
}

// HTTPTokenVerifier は外部認証サービスのHTTPエンドポイントでトークンを検証する。
type HTTPTokenVerifier struct {
	config HTTPVerifierConfig
	client *http.Client
}

// NewHTTPTokenVerifier はHTTPTokenVerifierを生成する。
func NewHTTPTokenVerifier(config HTTPVerifierConfig) *HTTPTokenVerifier {
	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPTokenVerifier{config: config, client: client}
}

// verifyResponse は認証サービスの検証エンドポイントのレスポンス。
type verifyResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Verify はトークンを検証し、本人情報を返す。
// 認証サービスが4xxを返した場合はそのステータスとメッセージをAPIErrorとして引き継ぐ。
// ネットワーク障害や5xxは予期しない失敗として通常のerrorで返す。
func (v *HTTPTokenVerifier) Verify(ctx context.Context, token string) (*model.VerifiedIdentity, error) {
	if token == "" {
		return nil, model.NewUnauthenticatedError(401, "Invalid access token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.VerifyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call auth service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read verify response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// 認証サービスの拒否はステータスとメッセージをそのまま伝播する
		var vr verifyResponse
		message := "Invalid access token"
		if err := json.Unmarshal(body, &vr); err == nil && vr.Error != "" {
			message = vr.Error
		}
		return nil, model.NewUnauthenticatedError(resp.StatusCode, message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if vr.Email == "" {
		return nil, fmt.Errorf("auth service returned no email")
	}

	return &model.VerifiedIdentity{Email: vr.Email, Name: vr.Name}, nil
}

// compile-time interface check
var _ TokenVerifier = (*HTTPTokenVerifier)(nil)
