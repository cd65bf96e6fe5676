// Package qmmiddleware file: internal/qmmiddleware/auth.go
package qmmiddleware

import (
	"QueryMind/internal/service"
	"log"
	"net/http"
)

// RequireAdmin 确保只有管理员能访问。认证未启用时直接放行。
func RequireAdmin(auth *service.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			claims := service.ClaimFrom(r)
			if claims == nil {
				log.Printf("RequireAdmin: 访问被拒绝 (无有效Claim)。路径: %s, IP: %s", r.URL.Path, getClientIP(r))
				errResp(w, http.StatusUnauthorized, "需要认证")
				return
			}
			if claims.Role != service.RoleAdmin {
				log.Printf("RequireAdmin: 访问被拒绝 (用户 '%s' 角色 '%s' 非管理员)。路径: %s", claims.User, claims.Role, r.URL.Path)
				errResp(w, http.StatusForbidden, "需要管理员权限")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
