/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package blob

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	applog "menuwizard/internal/log"

	"github.com/gin-gonic/gin"
)

// Server exposes a Store over HTTP:
//
//	GET /blob/:id  the resource, 404 once revoked
//	GET /preview   the current preview markup
type Server struct {
	store  *Store
	engine *gin.Engine
	srv    *http.Server
	log    *slog.Logger
}

func NewServer(store *Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{store: store, engine: gin.New(), log: applog.WithComponent("blob")}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.engine.GET("/blob/:id", s.getBlob())
	s.engine.GET("/preview", s.getPreview())
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on addr (use "127.0.0.1:0" for a free port) and serves in
// the background. It returns the base URL.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	base := "http://" + ln.Addr().String()
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	s.store.setBase(base)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("blob server stopped", slog.Any("err", err))
		}
	}()
	s.log.Info("blob server listening", slog.String("addr", base))
	return base, nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.store.setBase("")
	return s.srv.Shutdown(ctx)
}

func (s *Server) getBlob() gin.HandlerFunc {
	return func(c *gin.Context) {
		it, err := s.store.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		ct := it.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, ct, it.Data)
	}
}

func (s *Server) getPreview() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(s.store.Preview()))
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}
