/*
Copyright 2024 Stamp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/stamp-registry/stamp"
	"github.com/stamp-registry/stamp/api/middleware"
	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/internal/apierror"
)

type Api struct {
	stamp  *stamp.Stamp
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	v1 := router.Group("/v1")

	v1.POST("/recipients", a.CreateRecipient)
	v1.GET("/recipients/:id", a.GetRecipient)

	v1.POST("/certificates", a.IssueCertificate)
	v1.GET("/certificates/withdrawn", a.GetWithdrawnCertificates)
	v1.GET("/certificates/:registry/:id", a.GetCertificate)
	v1.POST("/certificates/:registry/:id/withdraw", a.WithdrawCertificate)

	return a.router
}

func NewAPI(s *stamp.Stamp) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimit(conf.RateLimit))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if conf.Server.Secure {
		r.Use(middleware.SecretKey(conf.Server))
	}

	return &Api{stamp: s, router: r}
}

// respondError writes err with the status of its APIError code. Only the
// message of an APIError reaches the client.
func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apiErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
