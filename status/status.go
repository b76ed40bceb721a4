// Package status serves the arbiter status over HTTP and reads it back.
package status

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/powermux"
)

// Source provides status snapshots. powermux.Mux implements it.
type Source interface {
	Status() *powermux.Status
}

// NewRouter returns the HTTP handler exposing src as JSON and as Prometheus
// metrics.
func NewRouter(src Source, log logrus.FieldLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	reg := NewRegistry(src)
	hm := newHTTPMetrics()
	reg.MustRegister(hm.requests, hm.duration)

	router := gin.New()
	router.Use(requestLogger(pdmux.OrDiscard(log), hm), gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/status", func(c *gin.Context) {
		c.IndentedJSON(http.StatusOK, src.Status())
	})
	router.GET("/ports/:port", func(c *gin.Context) {
		name := strings.ToUpper(c.Param("port"))
		for _, p := range src.Status().Ports {
			if p.Port == name {
				c.IndentedJSON(http.StatusOK, p)
				return
			}
		}
		c.IndentedJSON(http.StatusNotFound, gin.H{"error": "no such port: " + c.Param("port")})
	})
	return router
}

func requestLogger(log logrus.FieldLogger, hm *httpMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		hm.record(c.Request.Method, path, c.Writer.Status(), time.Since(start))
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("http request")
		case status >= 400:
			entry.Warn("http request")
		default:
			entry.Debug("http request")
		}
	}
}

// Serve listens on addr and serves h until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	log = pdmux.OrDiscard(log)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Infof("http server listening on %s", l.Addr().String())
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
