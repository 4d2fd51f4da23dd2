package code

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hitoshi/codestash/internal/model"
)

// --- モック ---

type mockResolver struct {
	resolveFn func(ctx context.Context, token string) (*model.User, error)
}

func (m *mockResolver) Resolve(ctx context.Context, token string) (*model.User, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, nil
}

// fakeCodeRepo はインメモリのCodeRepository実装。
// サービスのストアアクセス有無とラウンドトリップの検証に用いる。
type fakeCodeRepo struct {
	codes map[string]*model.Code

	createCalls int
	readCalls   int

	createErr error
	findErr   error
	deleteErr error
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{codes: make(map[string]*model.Code)}
}

func (f *fakeCodeRepo) CreateWithDetails(ctx context.Context, c *model.Code) error {
	f.createCalls++
	if f.createErr != nil {
		// 失敗時は一切レコードを残さない（トランザクション相当）
		return f.createErr
	}
	stored := *c
	f.codes[c.ID] = &stored
	return nil
}

func (f *fakeCodeRepo) FindByIDWithDetails(ctx context.Context, id string) (*model.Code, error) {
	f.readCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	c, ok := f.codes[id]
	if !ok {
		return nil, nil
	}
	found := *c
	return &found, nil
}

func (f *fakeCodeRepo) ListMetaByUserID(ctx context.Context, userID string) ([]model.CodeMeta, error) {
	f.readCalls++
	var metas []model.CodeMeta
	for _, c := range f.codes {
		if c.OwnerID == userID {
			metas = append(metas, model.CodeMeta{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt})
		}
	}
	return metas, nil
}

func (f *fakeCodeRepo) DeleteByID(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.codes[id]; !ok {
		return fmt.Errorf("code not found: %s", id)
	}
	delete(f.codes, id)
	return nil
}

func resolverFor(user *model.User) *mockResolver {
	return &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return user, nil
		},
	}
}

func asAPIError(t *testing.T, err error) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	return apiErr
}

// --- テスト ---

// TestService_Create_Succeeds は作成成功時にチャット・ファイルを含むセッションが永続化されることを検証する。
func TestService_Create_Succeeds(t *testing.T) {
	repo := newFakeCodeRepo()
	svc := NewService(resolverFor(&model.User{ID: "u1", Email: "u@x.com"}), repo)

	payload := CreatePayload{
		Files: []model.FileEntry{
			{Name: "a.ts", Path: "/a.ts", Content: "x"},
		},
		Response: "done",
	}

	id, err := svc.Create(context.Background(), "token", payload, "build a button")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty code ID")
	}

	stored, ok := repo.codes[id]
	if !ok {
		t.Fatal("expected code to be persisted")
	}
	if stored.Title != "Untitled" {
		t.Errorf("Title = %q, want %q", stored.Title, "Untitled")
	}
	if stored.OwnerID != "u1" {
		t.Errorf("OwnerID = %q, want %q", stored.OwnerID, "u1")
	}
	if len(stored.Chat) != 2 {
		t.Fatalf("len(Chat) = %d, want 2", len(stored.Chat))
	}
	if stored.Chat[0].Kind != model.ChatKindPrompt || stored.Chat[0].Message != "build a button" {
		t.Errorf("Chat[0] = %+v, want PROMPT %q", stored.Chat[0], "build a button")
	}
	if stored.Chat[1].Kind != model.ChatKindResponse || stored.Chat[1].Message != "done" {
		t.Errorf("Chat[1] = %+v, want RESPONSE %q", stored.Chat[1], "done")
	}
	if stored.Chat[0].Seq >= stored.Chat[1].Seq {
		t.Errorf("chat seq not ascending: %d >= %d", stored.Chat[0].Seq, stored.Chat[1].Seq)
	}
	if len(stored.Files) != 1 {
		t.Fatalf("len(Files) = %d, want 1", len(stored.Files))
	}
	f := stored.Files[0]
	if f.Name != "a.ts" || f.Path != "/a.ts" || f.Content != "x" {
		t.Errorf("Files[0] = %+v, want a.ts //a.ts/x", f)
	}
	if f.CodeID != id {
		t.Errorf("file CodeID = %q, want %q", f.CodeID, id)
	}
}

// TestService_Create_TitleProvided は指定されたタイトルがそのまま使われることを検証する。
func TestService_Create_TitleProvided(t *testing.T) {
	repo := newFakeCodeRepo()
	svc := NewService(resolverFor(&model.User{ID: "u1"}), repo)

	id, err := svc.Create(context.Background(), "token", CreatePayload{
		Title:    "My Button",
		Response: "done",
	}, "prompt")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if repo.codes[id].Title != "My Button" {
		t.Errorf("Title = %q, want %q", repo.codes[id].Title, "My Button")
	}
}

// TestService_Create_AuthFailure_DoesNotTouchStore はトークン検証失敗が
// そのまま伝播し、ストアに一切アクセスしないことを検証する。
func TestService_Create_AuthFailure_DoesNotTouchStore(t *testing.T) {
	repo := newFakeCodeRepo()
	authErr := model.NewUnauthenticatedError(401, "Token expired")
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, authErr
		},
	}
	svc := NewService(resolver, repo)

	_, err := svc.Create(context.Background(), "bad", CreatePayload{Response: "r"}, "p")

	apiErr := asAPIError(t, err)
	if apiErr.Status != 401 || apiErr.Message != "Token expired" {
		t.Errorf("error = %d %q, want 401 %q", apiErr.Status, apiErr.Message, "Token expired")
	}
	if repo.createCalls != 0 || repo.readCalls != 0 {
		t.Errorf("store accessed on auth failure: creates=%d reads=%d", repo.createCalls, repo.readCalls)
	}
}

// TestService_Create_UserNotFound はユーザー未登録時の404を検証する。
func TestService_Create_UserNotFound(t *testing.T) {
	repo := newFakeCodeRepo()
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	svc := NewService(resolver, repo)

	_, err := svc.Create(context.Background(), "token", CreatePayload{Response: "r"}, "p")

	apiErr := asAPIError(t, err)
	if apiErr.Status != 404 || apiErr.Message != "User not found" {
		t.Errorf("error = %d %q, want 404 %q", apiErr.Status, apiErr.Message, "User not found")
	}
	if repo.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", repo.createCalls)
	}
}

// TestService_Create_StoreFailure_NormalizedTo500 はストア障害が500に正規化され、
// レコードが残らないことを検証する。
func TestService_Create_StoreFailure_NormalizedTo500(t *testing.T) {
	repo := newFakeCodeRepo()
	repo.createErr = errors.New("connection reset")
	svc := NewService(resolverFor(&model.User{ID: "u1"}), repo)

	_, err := svc.Create(context.Background(), "token", CreatePayload{Response: "r"}, "p")

	apiErr := asAPIError(t, err)
	if apiErr.Status != 500 {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
	if len(repo.codes) != 0 {
		t.Errorf("expected no persisted codes after failure, got %d", len(repo.codes))
	}
}

// TestService_CreateThenGet_RoundTrip は作成したセッションを同一トークンで
// 取得したときに内容が一致することを検証する。
func TestService_CreateThenGet_RoundTrip(t *testing.T) {
	repo := newFakeCodeRepo()
	svc := NewService(resolverFor(&model.User{ID: "u1", Email: "u@x.com"}), repo)

	id, err := svc.Create(context.Background(), "token", CreatePayload{
		Files: []model.FileEntry{
			{Name: "a.ts", Path: "/a.ts", Content: "x"},
			{Name: "b.ts", Path: "/b.ts", Content: "y"},
		},
		Response: "done",
	}, "build a button")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := svc.Get(context.Background(), "token", id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if got.Title != "Untitled" {
		t.Errorf("Title = %q, want %q", got.Title, "Untitled")
	}
	if len(got.Chat) != 2 || got.Chat[0].Kind != model.ChatKindPrompt || got.Chat[1].Kind != model.ChatKindResponse {
		t.Errorf("Chat = %+v, want [PROMPT, RESPONSE]", got.Chat)
	}
	if got.Chat[0].Message != "build a button" || got.Chat[1].Message != "done" {
		t.Errorf("chat messages = %q, %q", got.Chat[0].Message, got.Chat[1].Message)
	}

	// ファイルは順序非依存で比較する
	if len(got.Files) != 2 {
		t.Fatalf("len(Files) = %d, want 2", len(got.Files))
	}
	byPath := make(map[string]model.FileEntry)
	for _, f := range got.Files {
		byPath[f.Path] = f
	}
	if byPath["/a.ts"].Content != "x" || byPath["/b.ts"].Content != "y" {
		t.Errorf("files mismatch: %+v", got.Files)
	}
}

// TestService_Get_NotFound は存在しないIDへの404を検証する。
func TestService_Get_NotFound(t *testing.T) {
	repo := newFakeCodeRepo()
	svc := NewService(resolverFor(&model.User{ID: "u1"}), repo)

	_, err := svc.Get(context.Background(), "token", "no-such-id")

	apiErr := asAPIError(t, err)
	if apiErr.Status != 404 || apiErr.Message != "Code not found" {
		t.Errorf("error = %d %q, want 404 %q", apiErr.Status, apiErr.Message, "Code not found")
	}
}

// TestService_Get_NonOwner は所有者以外からの取得が401になり、
// エラーにセッションの内容が含まれないことを検証する。
func TestService_Get_NonOwner(t *testing.T) {
	repo := newFakeCodeRepo()
	owner := NewService(resolverFor(&model.User{ID: "u1"}), repo)
	other := NewService(resolverFor(&model.User{ID: "v1"}), repo)

	id, err := owner.Create(context.Background(), "tokenA", CreatePayload{
		Title:    "secret-title",
		Files:    []model.FileEntry{{Name: "s.ts", Path: "/s.ts", Content: "secret-content"}},
		Response: "secret-response",
	}, "secret-prompt")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := other.Get(context.Background(), "tokenB", id)
	if got != nil {
		t.Fatal("expected nil result for non-owner")
	}

	apiErr := asAPIError(t, err)
	if apiErr.Status != 401 || apiErr.Message != "Unauthorized" {
		t.Errorf("error = %d %q, want 401 %q", apiErr.Status, apiErr.Message, "Unauthorized")
	}
	for _, leak := range []string{"secret-title", "secret-content", "secret-response", "secret-prompt"} {
		if errContains(apiErr, leak) {
			t.Errorf("error leaks session content: %q", leak)
		}
	}
}

// TestService_Get_AuthFailure_DoesNotTouchStore は取得時も検証失敗でストアに触れないことを検証する。
func TestService_Get_AuthFailure_DoesNotTouchStore(t *testing.T) {
	repo := newFakeCodeRepo()
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, model.NewUnauthenticatedError(401, "Invalid access token")
		},
	}
	svc := NewService(resolver, repo)

	_, err := svc.Get(context.Background(), "bad", "some-id")
	if err == nil {
		t.Fatal("expected error")
	}
	if repo.readCalls != 0 {
		t.Errorf("readCalls = %d, want 0", repo.readCalls)
	}
}

// TestService_Get_StoreFailure_NormalizedTo500 はストア障害が500に正規化されることを検証する。
func TestService_Get_StoreFailure_NormalizedTo500(t *testing.T) {
	repo := newFakeCodeRepo()
	repo.findErr = errors.New("connection reset")
	svc := NewService(resolverFor(&model.User{ID: "u1"}), repo)

	_, err := svc.Get(context.Background(), "token", "some-id")

	apiErr := asAPIError(t, err)
	if apiErr.Status != 500 {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
}

// TestService_ListMeta_OnlyOwnSessions は一覧が呼び出し元の所有分に限られることを検証する。
func TestService_ListMeta_OnlyOwnSessions(t *testing.T) {
	repo := newFakeCodeRepo()
	userA := NewService(resolverFor(&model.User{ID: "u1"}), repo)
	userB := NewService(resolverFor(&model.User{ID: "v1"}), repo)

	if _, err := userA.Create(context.Background(), "tA", CreatePayload{Response: "r"}, "p"); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := userB.Create(context.Background(), "tB", CreatePayload{Response: "r"}, "p"); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	metas, err := userA.ListMeta(context.Background(), "tA")
	if err != nil {
		t.Fatalf("ListMeta returned error: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("len(metas) = %d, want 1", len(metas))
	}
}

// TestService_Delete_Succeeds は所有者による削除が成功することを検証する。
func TestService_Delete_Succeeds(t *testing.T) {
	repo := newFakeCodeRepo()
	svc := NewService(resolverFor(&model.User{ID: "u1"}), repo)

	id, err := svc.Create(context.Background(), "token", CreatePayload{Response: "r"}, "p")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := svc.Delete(context.Background(), "token", id); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok := repo.codes[id]; ok {
		t.Error("expected code to be deleted")
	}
}

// TestService_Delete_NonOwner は所有者以外からの削除が401で拒否されることを検証する。
func TestService_Delete_NonOwner(t *testing.T) {
	repo := newFakeCodeRepo()
	owner := NewService(resolverFor(&model.User{ID: "u1"}), repo)
	other := NewService(resolverFor(&model.User{ID: "v1"}), repo)

	id, err := owner.Create(context.Background(), "tA", CreatePayload{Response: "r"}, "p")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	err = other.Delete(context.Background(), "tB", id)
	apiErr := asAPIError(t, err)
	if apiErr.Status != 401 || apiErr.Message != "Unauthorized" {
		t.Errorf("error = %d %q, want 401 %q", apiErr.Status, apiErr.Message, "Unauthorized")
	}
	if _, ok := repo.codes[id]; !ok {
		t.Error("code should not be deleted by non-owner")
	}
}

// TestService_Delete_NotFound は存在しないIDへの削除が404になることを検証する。
func TestService_Delete_NotFound(t *testing.T) {
	repo := newFakeCodeRepo()
	svc := NewService(resolverFor(&model.User{ID: "u1"}), repo)

	err := svc.Delete(context.Background(), "token", "no-such-id")
	apiErr := asAPIError(t, err)
	if apiErr.Status != 404 || apiErr.Message != "Code not found" {
		t.Errorf("error = %d %q, want 404 %q", apiErr.Status, apiErr.Message, "Code not found")
	}
}

func errContains(apiErr *model.APIError, s string) bool {
	return strings.Contains(apiErr.Message, s) || strings.Contains(apiErr.Code, s)
}
