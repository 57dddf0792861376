// Package middleware provides the HTTP middleware for the control API.
//
// Middleware stack includes:
//   - RequestLog: Request id propagation and structured access logs
//   - Recovery: Panic recovery that logs through zap
//   - CORS: Cross-origin access for the desktop UI
//   - RateLimit: Per-IP token bucket limiting with idle eviction
//
// Example Usage:
//
//	router.Use(middleware.RequestLog(logger), middleware.Recovery(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
