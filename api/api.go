/*
Copyright 2024 Blnk Finance Authors.

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
	"net/http"

	"github.com/blnkfinance/floorsync"
	"github.com/blnkfinance/floorsync/api/middleware"
	"github.com/blnkfinance/floorsync/config"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	fs     *floorsync.FloorSync
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/submissions", a.Submit)
	router.GET("/submissions", a.ListSubmissions)
	router.GET("/submissions/count", a.CountSubmissions)
	router.POST("/submissions/retry-failed", a.RetryFailed)
	router.GET("/submissions/:id", a.GetSubmission)
	router.DELETE("/submissions/:id", a.RemoveSubmission)
	router.POST("/submissions/:id/retry", a.RetrySubmission)

	router.POST("/sync", a.Sync)

	router.GET("/connectivity", a.GetConnectivity)
	router.POST("/connectivity", a.SetConnectivity)

	router.POST("/session/teardown", a.Teardown)
	return a.router
}

func NewAPI(fs *floorsync.FloorSync) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{fs: fs, router: r}
}
