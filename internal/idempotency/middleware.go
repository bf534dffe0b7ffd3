package idempotency

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carorbit/reservations/internal/apperr"
)

// HeaderName is the client-supplied idempotency key header. Its absence
// disables idempotency protection for the request entirely — it is
// not an error, just an unprotected call.
const HeaderName = "X-Idempotency-Key"

const contextRecordKey = "idempotency.record"
const contextKeyKey = "idempotency.key"
const contextHashKey = "idempotency.hash"

// Middleware checks the idempotency key header against store before the
// handler runs. On a hash match it replays the cached response verbatim
// and aborts the chain. On a hash mismatch it aborts with 409
// ConflictingIdempotencyKey. On a miss, it stashes the computed request
// hash in the gin context (under contextHashKey) so the handler can call
// Put inside its own transaction once it knows the outcome, then calls
// c.Next().
func Middleware(store Store, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderName)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_body",
				"message": "could not read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		hash, err := ComputeRequestHash(body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_body",
				"message": "request body must be valid JSON to use an idempotency key",
			})
			return
		}

		existing, err := store.Get(c.Request.Context(), scope, key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "failed to check idempotency key",
			})
			return
		}

		if existing != nil {
			if existing.RequestHash != hash {
				renderError(c, apperr.IdempotencyConflict(scope, key))
				return
			}
			c.Data(existing.ResponseStatus, gin.MIMEJSON, existing.ResponseBody)
			c.Abort()
			return
		}

		c.Set(contextKeyKey, key)
		c.Set(contextHashKey, hash)
		c.Next()
	}
}

// RequestHash returns the canonical request hash computed by Middleware for
// the current request, or "" if no idempotency key was supplied.
func RequestHash(c *gin.Context) string {
	v, _ := c.Get(contextHashKey)
	s, _ := v.(string)
	return s
}

// Key returns the idempotency key supplied on the current request, or ""
// if none was supplied.
func Key(c *gin.Context) string {
	v, _ := c.Get(contextKeyKey)
	s, _ := v.(string)
	return s
}

func renderError(c *gin.Context, e *apperr.Error) {
	status, body := apperr.Envelope(e)
	c.AbortWithStatusJSON(status, body)
}
