// Package server 是 tooltool 的 HTTP 边界：路由、认证、日志，以及 apperr 到状态码的翻译。
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tooltool/pkg/api"
	"tooltool/pkg/app"
	"tooltool/pkg/auth"
	"tooltool/pkg/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ObjectsPrefix memory 存储模式下签名 URL 指向的路径前缀
const ObjectsPrefix = "/_objects"

// shutdownTimeout 优雅退出时等待在途请求的时间
const shutdownTimeout = 10 * time.Second

type Server struct {
	app *app.App
	svc *service.Service
	log *slog.Logger
}

func New(application *app.App) *Server {
	return &Server{
		app: application,
		svc: service.New(application),
		log: application.Logger.With("component", "http"),
	}
}

// Handler 组装路由
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(s.logging)
	r.Use(s.recovery)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", s.app.Metrics.Handler())

	// memory 存储：签名 URL 由本进程校验并服务
	if s.app.Cloud != nil {
		r.Mount(ObjectsPrefix, s.app.Cloud.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Put("/batch", s.wrap(endpoint[bodyRequest[api.UploadBatch], *api.UploadBatch]{
			validate: validateBody[api.UploadBatch],
			execute: func(ctx context.Context, caller auth.Caller, in bodyRequest[api.UploadBatch]) (*api.UploadBatch, error) {
				return s.svc.CreateBatch(ctx, caller, in.Body, in.Region)
			},
			render: renderJSON[*api.UploadBatch](http.StatusOK),
		}))

		r.Get("/sha512/{digest}", s.wrap(endpoint[digestRequest, string]{
			validate: validateDigest,
			execute: func(ctx context.Context, caller auth.Caller, in digestRequest) (string, error) {
				return s.svc.Resolve(ctx, caller, in.Digest, in.Region)
			},
			render: renderRedirect,
		}))

		r.Get("/upload/complete/sha512/{digest}", s.wrap(endpoint[digestRequest, struct{}]{
			validate: validateDigest,
			execute: func(ctx context.Context, _ auth.Caller, in digestRequest) (struct{}, error) {
				return struct{}{}, s.svc.UploadComplete(ctx, in.Digest)
			},
			render: renderAccepted,
		}))

		r.Patch("/file/sha512/{digest}", s.wrap(endpoint[bodyRequest[[]api.FileOp], *api.File]{
			validate:  validateDigestBody[[]api.FileOp],
			authorize: requirePermission[bodyRequest[[]api.FileOp]](auth.PermManage),
			execute: func(ctx context.Context, caller auth.Caller, in bodyRequest[[]api.FileOp]) (*api.File, error) {
				return s.svc.PatchFile(ctx, caller, in.Digest, in.Body)
			},
			render: renderJSON[*api.File](http.StatusOK),
		}))

		// 只读查询
		r.Get("/upload", s.wrap(endpoint[string, api.Result[api.UploadBatch]]{
			validate: validateQuery,
			execute: func(ctx context.Context, _ auth.Caller, q string) (api.Result[api.UploadBatch], error) {
				batches, err := s.svc.SearchBatches(ctx, q)
				return api.Result[api.UploadBatch]{Result: batches}, err
			},
			render: renderJSON[api.Result[api.UploadBatch]](http.StatusOK),
		}))

		r.Get("/upload/{id}", s.wrap(endpoint[uint, *api.UploadBatch]{
			validate: validateID,
			execute: func(ctx context.Context, _ auth.Caller, id uint) (*api.UploadBatch, error) {
				return s.svc.GetBatch(ctx, id)
			},
			render: renderJSON[*api.UploadBatch](http.StatusOK),
		}))

		r.Get("/file", s.wrap(endpoint[string, api.Result[api.File]]{
			validate: validateQuery,
			execute: func(ctx context.Context, _ auth.Caller, q string) (api.Result[api.File], error) {
				files, err := s.svc.SearchFiles(ctx, q)
				return api.Result[api.File]{Result: files}, err
			},
			render: renderJSON[api.Result[api.File]](http.StatusOK),
		}))

		r.Get("/file/sha512/{digest}", s.wrap(endpoint[digestRequest, *api.File]{
			validate: validateDigest,
			execute: func(ctx context.Context, _ auth.Caller, in digestRequest) (*api.File, error) {
				return s.svc.GetFile(ctx, in.Digest)
			},
			render: renderJSON[*api.File](http.StatusOK),
		}))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, errNoRoute)
	})
	return r
}

// wrap 把 pipeline 挂成 http.HandlerFunc，并统一渲染错误
func (s *Server) wrap(p pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.serve(w, r); err != nil {
			s.renderError(w, r, err)
		}
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.app.DB.Ping(ctx); err != nil {
		s.log.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe 监听 addr，ctx 取消时优雅退出
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("🚀 HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("⚠️  shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
