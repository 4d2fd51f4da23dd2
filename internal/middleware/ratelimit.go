package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	CreateRate      rate.Limit    // セッション作成のレート（req/sec）
	CreateBurst     int           // セッション作成のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/caller、セッション作成 20 req/min/caller。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		CreateRate:      rate.Limit(20.0 / 60.0),
		CreateBurst:     20,
		CleanupInterval: 5 * time.Minute,
	}
}

// callerLimiter は呼び出し元ごとのレートリミッターとアクセス時刻を保持する。
type callerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は呼び出し元ごとのレート制限を管理する。
// API全般のレート制限とセッション作成のレート制限の2種類を提供する。
// 呼び出し元の識別にはベアラートークンのハッシュを用い、トークンがない場合は接続元アドレスを用いる。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.Mutex
	generalLimiters map[string]*callerLimiter

	createMu       sync.Mutex
	createLimiters map[string]*callerLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*callerLimiter),
		createLimiters:  make(map[string]*callerLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			if !rl.allow(&rl.generalMu, rl.generalLimiters, key, rl.config.GeneralRate, rl.config.GeneralBurst) {
				writeRateLimited(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CreateMiddleware はセッション作成専用のレート制限ミドルウェアを返す。
// GeneralMiddlewareの内側に重ねて使用する。
func (rl *RateLimiter) CreateMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			if !rl.allow(&rl.createMu, rl.createLimiters, key, rl.config.CreateRate, rl.config.CreateBurst) {
				writeRateLimited(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow は指定キーのリミッターでリクエストを判定する。リミッターは必要時に生成する。
func (rl *RateLimiter) allow(mu *sync.Mutex, limiters map[string]*callerLimiter, key string, r rate.Limit, burst int) bool {
	mu.Lock()
	cl, ok := limiters[key]
	if !ok {
		cl = &callerLimiter{limiter: rate.NewLimiter(r, burst)}
		limiters[key] = cl
	}
	cl.lastAccess = time.Now()
	mu.Unlock()

	return cl.limiter.Allow()
}

// cleanupLoop は一定時間アクセスのないリミッターエントリを定期的に削除する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.config.CleanupInterval * 2)
			rl.cleanup(&rl.generalMu, rl.generalLimiters, cutoff)
			rl.cleanup(&rl.createMu, rl.createLimiters, cutoff)
		}
	}
}

func (rl *RateLimiter) cleanup(mu *sync.Mutex, limiters map[string]*callerLimiter, cutoff time.Time) {
	mu.Lock()
	defer mu.Unlock()
	for key, cl := range limiters {
		if cl.lastAccess.Before(cutoff) {
			delete(limiters, key)
		}
	}
}

// callerKey は呼び出し元を識別するキーを返す。
// ベアラートークンが存在する場合はそのハッシュ、なければ接続元アドレスを用いる。
// トークンそのものをメモリ上のキーとして保持しない。
func callerKey(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		sum := sha256.Sum256([]byte(strings.TrimPrefix(authz, "Bearer ")))
		return "t:" + hex.EncodeToString(sum[:8])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "a:" + host
}

// writeRateLimited は429レスポンスを統一フォーマットで書き込む。
func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error":  "Too many requests",
		"status": http.StatusTooManyRequests,
	})
}
