// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/codestash/internal/code"
	"github.com/hitoshi/codestash/internal/model"
)

// CodeServiceInterface はコードセッションハンドラーが必要とするサービスインターフェース。
type CodeServiceInterface interface {
	// Create はセッションを作成し、新規セッションのIDを返す。
	Create(ctx context.Context, accessToken string, payload code.CreatePayload, prompt string) (string, error)
	// Get は指定IDのセッションをチャット・ファイル込みで返す。
	Get(ctx context.Context, accessToken, id string) (*model.Code, error)
	// ListMeta は呼び出し元が所有するセッションのメタデータ一覧を返す。
	ListMeta(ctx context.Context, accessToken string) ([]model.CodeMeta, error)
	// Delete は指定IDのセッションを削除する。
	Delete(ctx context.Context, accessToken, id string) error
}

// CodeHandler はコード生成セッションのHTTPハンドラー。
type CodeHandler struct {
	service CodeServiceInterface
}

// NewCodeHandler はCodeHandlerを生成する。
func NewCodeHandler(service CodeServiceInterface) *CodeHandler {
	return &CodeHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

// fileEntryPayload は生成ファイル1件のリクエスト・レスポンス表現。
type fileEntryPayload struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// createCodeRequest はセッション作成リクエストのボディ。
type createCodeRequest struct {
	Title    string             `json:"title"`
	Files    []fileEntryPayload `json:"files"`
	Response string             `json:"response"`
	Prompt   string             `json:"prompt"`
}

// chatEntryResponse はチャット1エントリのレスポンス。
// 種別のJSONキーは既存クライアントとの互換のためtypeとする。
type chatEntryResponse struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// codeResponse はセッション詳細のレスポンス。所有者IDは含めない。
type codeResponse struct {
	ID    string              `json:"id"`
	Title string              `json:"title"`
	Chat  []chatEntryResponse `json:"chat"`
	Files []fileEntryPayload  `json:"files"`
}

// codeMetaResponse は一覧表示用のセッションメタデータレスポンス。
type codeMetaResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateCode はセッションを作成する。
// POST /api/codes
func (h *CodeHandler) CreateCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewInvalidRequestError("Invalid request body"))
		return
	}

	if req.Prompt == "" {
		writeError(w, model.NewInvalidRequestError("prompt is required"))
		return
	}
	if req.Response == "" {
		writeError(w, model.NewInvalidRequestError("response is required"))
		return
	}
	for _, f := range req.Files {
		if f.Name == "" || f.Path == "" {
			writeError(w, model.NewInvalidRequestError("file name and path are required"))
			return
		}
	}

	files := make([]model.FileEntry, len(req.Files))
	for i, f := range req.Files {
		files[i] = model.FileEntry{
			Name:    f.Name,
			Path:    f.Path,
			Content: f.Content,
		}
	}

	id, err := h.service.Create(r.Context(), bearerToken(r), code.CreatePayload{
		Title:    req.Title,
		Files:    files,
		Response: req.Response,
	}, req.Prompt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeData(w, http.StatusCreated, map[string]string{"id": id})
}

// GetCode はセッション詳細を取得する。
// GET /api/codes/:id
func (h *CodeHandler) GetCode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found, err := h.service.Get(r.Context(), bearerToken(r), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	chat := make([]chatEntryResponse, len(found.Chat))
	for i, entry := range found.Chat {
		chat[i] = chatEntryResponse{
			Message: entry.Message,
			Type:    string(entry.Kind),
		}
	}
	files := make([]fileEntryPayload, len(found.Files))
	for i, file := range found.Files {
		files[i] = fileEntryPayload{
			Name:    file.Name,
			Path:    file.Path,
			Content: file.Content,
		}
	}

	writeData(w, http.StatusOK, codeResponse{
		ID:    found.ID,
		Title: found.Title,
		Chat:  chat,
		Files: files,
	})
}

// ListCodes は呼び出し元が所有するセッションの一覧を取得する。
// GET /api/codes
func (h *CodeHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	metas, err := h.service.ListMeta(r.Context(), bearerToken(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	codes := make([]codeMetaResponse, len(metas))
	for i, meta := range metas {
		codes[i] = codeMetaResponse{
			ID:        meta.ID,
			Title:     meta.Title,
			UpdatedAt: meta.UpdatedAt,
		}
	}

	writeData(w, http.StatusOK, map[string]any{"codes": codes})
}

// DeleteCode はセッションを削除する。
// DELETE /api/codes/:id
func (h *CodeHandler) DeleteCode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), bearerToken(r), id); err != nil {
		handleServiceError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"id": id})
}

// --- 共通ヘルパー ---

// bearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
// ヘッダーがない場合は空文字列を返し、検証層で401となる。
func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// dataResponseBody は成功レスポンスの統一フォーマット。
type dataResponseBody struct {
	Data   any `json:"data"`
	Status int `json:"status"`
}

// errorResponseBody はエラーレスポンスの統一フォーマット。
type errorResponseBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// writeData は統一フォーマットで成功レスポンスを書き込む。
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataResponseBody{
		Data:   data,
		Status: status,
	})
}

// writeError は統一フォーマットでエラーレスポンスを書き込む。
func writeError(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(errorResponseBody{
		Error:  apiErr.Message,
		Status: apiErr.Status,
	})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスにマッピングする。
// サービス境界はすべてのエラーを*model.APIErrorに正規化するが、
// 万一それ以外のエラーが到達した場合も500として処理する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	writeError(w, model.NewInternalError(nil))
}
