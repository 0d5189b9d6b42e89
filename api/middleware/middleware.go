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

package middleware

import (
	"crypto/subtle"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/internal/apierror"
)

// KeyHeader carries the API secret on every /v1 request when the server runs secure.
const KeyHeader = "X-Stamp-Key"

const defaultBucketTTL = 3 * time.Hour

// RateLimit throttles each client per registry. Certificate routes that name a
// registry in the path get their own bucket so that traffic against one
// registry does not starve another; every other route is bucketed by its path.
// A nil rate or burst disables limiting.
func RateLimit(conf config.RateLimitConfig) gin.HandlerFunc {
	if conf.RequestsPerSecond == nil || conf.Burst == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := defaultBucketTTL
	if conf.CleanupIntervalSec != nil {
		ttl = time.Duration(*conf.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*conf.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetBurst(*conf.Burst)

	return func(c *gin.Context) {
		if httpErr := tollbooth.LimitByKeys(lmt, bucketKeys(c)); httpErr != nil {
			abort(c, apierror.NewAPIError(apierror.ErrTooManyRequests, "rate limit exceeded", nil))
			return
		}
		c.Next()
	}
}

func bucketKeys(c *gin.Context) []string {
	scope := c.Param("registry")
	if scope == "" {
		scope = c.FullPath()
	}
	return []string{c.ClientIP(), scope}
}

// SecretKey rejects requests whose X-Stamp-Key does not match the configured secret.
func SecretKey(conf config.ServerConfig) gin.HandlerFunc {
	secret := []byte(conf.SecretKey)
	return func(c *gin.Context) {
		if len(secret) == 0 {
			abort(c, apierror.NewAPIError(apierror.ErrInternalServer, "secret key is not configured", "server.secret_key is empty"))
			return
		}
		presented := c.GetHeader(KeyHeader)
		if presented == "" {
			abort(c, apierror.NewAPIError(apierror.ErrUnauthorized, "missing secret key", nil))
			return
		}
		if subtle.ConstantTimeCompare(secret, []byte(presented)) != 1 {
			abort(c, apierror.NewAPIError(apierror.ErrUnauthorized, "invalid secret key", nil))
			return
		}
		c.Next()
	}
}

// abort writes the same error body the /v1 handlers produce.
func abort(c *gin.Context, err apierror.APIError) {
	c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Message})
}
