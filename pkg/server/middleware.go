package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"tooltool/pkg/apperr"
	"tooltool/pkg/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HeaderRequestID 请求 ID 头；客户端给出时沿用，否则由 chi 生成
var HeaderRequestID = middleware.RequestIDHeader

// RequestIDFromContext 取出当前请求 ID (由 middleware.RequestID 写入)
func RequestIDFromContext(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// =============================================================================
// 1. Request ID
// =============================================================================

// echoRequestID 把 middleware.RequestID 分配的 ID 写回响应头
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRequestID, RequestIDFromContext(r.Context()))
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// 2. Logging + Metrics (结构化日志)
// =============================================================================

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		// 指标按路由模板聚合，避免摘要撑爆 label 基数
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.app.Metrics.ObserveRequest(route, r.Method, status, duration)

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		s.log.Log(r.Context(), level, "HTTP Request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("dur", duration),
			slog.String("request_id", RequestIDFromContext(r.Context())),
		)
	})
}

// =============================================================================
// 3. Recovery (防弹衣)
// =============================================================================

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.Error("🔥 PANIC RECOVERED",
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				s.renderError(w, r, apperr.Internal(nil, "internal server error: panic recovered"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// 4. Authentication
// =============================================================================

// authenticate 把 Bearer JWT 解析成调用者；没有或无效的 token 都是匿名调用者
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := auth.Anonymous

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok && s.app.Tokens != nil {
			p, err := s.app.Tokens.Parse(strings.TrimSpace(token))
			if err != nil {
				s.log.Debug("ignoring invalid bearer token", "error", err,
					"request_id", RequestIDFromContext(r.Context()))
			} else {
				caller = p
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	})
}
