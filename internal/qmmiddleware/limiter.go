// Package qmmiddleware 提供速率限制、登录锁定与管理员校验中间件
// file: internal/qmmiddleware/limiter.go
package qmmiddleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// 不活跃的 IP 条目在此时间后被清除
const (
	ipEntryTTL      = 15 * time.Minute
	ipCleanupPeriod = 10 * time.Minute
)

// RateLimitConfig 对应配置文件中的 rate_limit 段
type RateLimitConfig struct {
	GlobalRate  float64 `mapstructure:"global_rate"`
	GlobalBurst int     `mapstructure:"global_burst"`
	IPRate      float64 `mapstructure:"ip_rate"`
	IPBurst     int     `mapstructure:"ip_burst"`
}

// RateLimiter 管理全局与按 IP 的令牌桶
type RateLimiter struct {
	globalLimiter *rate.Limiter

	ipLimiters *cache.Cache
	ipRate     rate.Limit
	ipBurst    int
}

// NewRateLimiter 创建限流器，非正数参数使用默认值。
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.GlobalRate <= 0 {
		cfg.GlobalRate = 20
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = 40
	}
	if cfg.IPRate <= 0 {
		cfg.IPRate = 1 // 默认 60 req/min
	}
	if cfg.IPBurst <= 0 {
		cfg.IPBurst = 10
	}
	rl := &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		ipLimiters:    cache.New(ipEntryTTL, ipCleanupPeriod),
		ipRate:        rate.Limit(cfg.IPRate),
		ipBurst:       cfg.IPBurst,
	}
	slog.Info("AI 接口限流器初始化完成",
		"global_rate", cfg.GlobalRate, "global_burst", cfg.GlobalBurst,
		"ip_rate", cfg.IPRate, "ip_burst", cfg.IPBurst)
	return rl
}

// ipLimiter 返回或创建指定 IP 的限制器，每次访问都会刷新过期时间。
func (rl *RateLimiter) ipLimiter(ip string) *rate.Limiter {
	if v, ok := rl.ipLimiters.Get(ip); ok {
		lim := v.(*rate.Limiter)
		rl.ipLimiters.SetDefault(ip, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.ipRate, rl.ipBurst)
	if err := rl.ipLimiters.Add(ip, lim, cache.DefaultExpiration); err != nil {
		// 并发请求已经创建了条目
		if v, ok := rl.ipLimiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Global 返回全局限制中间件
func (rl *RateLimiter) Global(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.globalLimiter.Allow() {
			errResp(w, http.StatusTooManyRequests, "系统繁忙，请稍后再试 (global limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PerIP 返回 IP 限制中间件
func (rl *RateLimiter) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.ipLimiter(getClientIP(r)).Allow() {
			errResp(w, http.StatusTooManyRequests, "您的请求过于频繁，请稍后再试 (per-ip limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Chain 组合全局与 IP 两层限制。顺序: Global -> IP -> Handler
func (rl *RateLimiter) Chain(next http.Handler) http.Handler {
	return rl.Global(rl.PerIP(next))
}

// getClientIP 从请求中获取客户端IP地址，考虑代理情况
func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	if ip != "" {
		return ip
	}
	ip = r.Header.Get("X-Real-IP")
	if ip != "" {
		return ip
	}
	ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	return ip
}

// LoginFailureLock 在同一 (IP, 用户名) 连续登录失败后临时锁定
type LoginFailureLock struct {
	failureCache    *cache.Cache
	maxFailures     int
	lockoutDuration time.Duration
}

// NewLoginFailureLock 创建一个新的登录失败锁定器
func NewLoginFailureLock(maxFailures int, lockoutDuration time.Duration) *LoginFailureLock {
	return &LoginFailureLock{
		failureCache:    cache.New(5*time.Minute, 10*time.Minute),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
}

// statusRecorder 记录下游写出的状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rec.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// loginUser 读取请求中的用户名。JSON 请求体被读出后原样放回。
func loginUser(r *http.Request) string {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return ""
		}
		var extractor struct {
			User string `json:"user"`
		}
		if json.Unmarshal(body, &extractor) == nil {
			return strings.TrimSpace(extractor.User)
		}
		return ""
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return strings.TrimSpace(r.FormValue("user"))
}

// Middleware 包裹登录处理器
func (l *LoginFailureLock) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := loginUser(r)
		ip := getClientIP(r)
		lockKey := "lock:" + ip + ":" + username
		failureKey := "failures:" + ip + ":" + username

		if _, found := l.failureCache.Get(lockKey); found {
			slog.Warn("已锁定的账户再次尝试登录", "user", username, "ip", ip)
			errResp(w, http.StatusUnauthorized, "用户名或密码无效")
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		switch recorder.status {
		case http.StatusUnauthorized:
			if err := l.failureCache.Increment(failureKey, int64(1)); err != nil {
				l.failureCache.Set(failureKey, int64(1), cache.DefaultExpiration)
			}
			var currentFailures int
			if x, found := l.failureCache.Get(failureKey); found {
				currentFailures = int(x.(int64))
			}
			slog.Info("管理员登录失败", "user", username, "ip", ip, "failures", currentFailures)

			if currentFailures >= l.maxFailures {
				l.failureCache.Set(lockKey, true, l.lockoutDuration)
				l.failureCache.Delete(failureKey)
				slog.Warn("账户已被临时锁定", "user", username, "ip", ip, "duration", l.lockoutDuration)
			}
		case http.StatusOK:
			l.failureCache.Delete(failureKey)
		}
	})
}

// errResp 写出 {"error": msg}
func errResp(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
