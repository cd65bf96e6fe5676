// Package service 管理员认证：bcrypt 校验 + JWT 签发与解析 + Middleware
// file: internal/service/auth_service.go
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

/* ---------- 配置 ---------- */

// RoleAdmin 是管理员令牌携带的角色
const RoleAdmin = "admin"

const (
	defaultTokenTTL = 24 * time.Hour
	issuer          = "QueryMind"
)

// ErrInvalidToken 表示 JWT 无效、过期或解析失败。
var ErrInvalidToken = errors.New("invalid or expired token")

// AuthConfig 对应配置文件中的 auth 段
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AdminUser         string        `mapstructure:"admin_user"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
}

// Authenticator 持有签名密钥与管理员凭据
type Authenticator struct {
	key       []byte
	adminUser string
	adminHash []byte
	ttl       time.Duration
}

// NewAuthenticator 创建认证器。未配置 jwt_secret 时认证被关闭，管理接口对所有人开放。
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	a := &Authenticator{
		key:       []byte(cfg.JWTSecret),
		adminUser: strings.TrimSpace(cfg.AdminUser),
		adminHash: []byte(cfg.AdminPasswordHash),
		ttl:       cfg.TokenTTL,
	}
	if a.ttl <= 0 {
		a.ttl = defaultTokenTTL
	}
	if a.adminUser == "" {
		a.adminUser = RoleAdmin
	}
	switch {
	case !a.Enabled():
		log.Println("警告: [Auth] 未配置 auth.jwt_secret，管理接口不做认证。生产环境强烈建议设置！")
	case len(a.adminHash) == 0:
		log.Println("警告: [Auth] 未配置 auth.admin_password_hash，管理员将无法登录。可用 `querymind hash-password` 生成。")
	}
	return a
}

// Enabled 报告是否启用了认证
func (a *Authenticator) Enabled() bool { return len(a.key) > 0 }

// HashPassword 生成 bcrypt 哈希，供写入配置文件
func HashPassword(pass string) (string, error) {
	if pass == "" {
		return "", errors.New("密码不能为空")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}
	return string(hash), nil
}

// CheckUser 校验用户名和密码，成功则返回角色和 true
func (a *Authenticator) CheckUser(user, pass string) (role string, ok bool) {
	if len(a.adminHash) == 0 {
		return "", false
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(user)), []byte(a.adminUser)) == 1
	// 用户名不匹配时同样执行 bcrypt 比较
	passErr := bcrypt.CompareHashAndPassword(a.adminHash, []byte(pass))
	if !userOK || passErr != nil {
		return "", false
	}
	return RoleAdmin, true
}

/* ---------- JWT Handling ---------- */

// Claim 定义 JWT 的载荷结构
type Claim struct {
	User string `json:"user"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenToken 签发一个新的 JWT
func (a *Authenticator) GenToken(user, role string) (string, error) {
	if !a.Enabled() {
		return "", errors.New("认证未启用，无法签发令牌")
	}
	now := time.Now()
	claims := Claim{
		User: user,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   user,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("签名 JWT 失败: %w", err)
	}
	return signed, nil
}

// TokenTTL 返回令牌有效期
func (a *Authenticator) TokenTTL() time.Duration { return a.ttl }

// ParseToken 解析并验证 JWT 字符串
func (a *Authenticator) ParseToken(tokenString string) (*Claim, error) {
	claims := &Claim{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名方法: %v", token.Header["alg"])
		}
		return a.key, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w (detail: %v)", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

/* ---------- Context Helpers for Claims ---------- */

type ctxKey int

// ClaimKey 是 context 中保存 *Claim 的键
const ClaimKey ctxKey = 0

// ContextWithClaim 把 claim 放入 context
func ContextWithClaim(ctx context.Context, c *Claim) context.Context {
	return context.WithValue(ctx, ClaimKey, c)
}

// ClaimFrom 取出请求中已验证的 claim，没有时返回 nil
func ClaimFrom(r *http.Request) *Claim {
	val := r.Context().Value(ClaimKey)
	if val == nil {
		return nil
	}
	claims, ok := val.(*Claim)
	if !ok {
		log.Printf("警告: context 中 ClaimKey 的值类型不是 *Claim: %T", val)
		return nil
	}
	return claims
}

/* ---------- 中间件 (Middleware) ---------- */

// Middleware 解析 Bearer 令牌，有效时把 claim 放入请求上下文。
// 它只负责识别身份，是否放行由后续的权限中间件决定。
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if a.Enabled() && strings.HasPrefix(authHeader, "Bearer ") {
			if tokenString := strings.TrimPrefix(authHeader, "Bearer "); tokenString != "" {
				claims, err := a.ParseToken(tokenString)
				if err == nil {
					r = r.WithContext(ContextWithClaim(r.Context(), claims))
				} else {
					errMsg := "认证中间件: Token无效或解析错误。"
					if errors.Is(err, jwt.ErrTokenExpired) {
						errMsg = "认证中间件: Token已过期。"
					}
					log.Printf("%s 请求路径: %s, IP: %s (错误详情: %v)", errMsg, r.URL.Path, r.RemoteAddr, err)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
