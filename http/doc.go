// Package http provides the sitehost management API.
//
// The API provisions sites, uploads and deletes files inside them, manages
// their basic-auth credentials and triggers proxy reconciliation. Every
// request outside /healthz and /metrics runs through the admission
// pipeline:
//
//  1. AuthMiddleware resolves the caller's identity: the id of a valid
//     bearer API key, or else the client address.
//  2. RateLimitMiddleware admits the request through the sliding-window
//     limiter keyed by that identity and sets RateLimit-Limit,
//     RateLimit-Remaining and RateLimit-Reset. Rejections are 429 with
//     Retry-After.
//  3. RequireKey turns away callers without a valid key when keys are
//     required.
//
// Handlers then hand off to the Service, which confines the path, stages the
// content, reserves quota, persists and commits.
//
// # Routes
//
//	GET    /healthz
//	GET    /metrics
//	POST   /sites
//	GET    /sites?prefix=&limit=&cursor=
//	GET    /sites/{site}
//	DELETE /sites/{site}
//	PUT    /sites/{site}/auth
//	DELETE /sites/{site}/auth
//	GET    /sites/{site}/files?prefix=
//	PUT    /sites/{site}/files/{path...}
//	DELETE /sites/{site}/files/{path...}
//	GET    /sites/{site}/stats
//	POST   /sites/{site}/recount
//	POST   /proxy/sync
//
// # Usage
//
//	ips, _ := http.NewClientIPResolver([]string{"10.0.0.0/8"})
//	handlerCfg := http.HandlerConfig{
//	    Keys:         keyStore,
//	    AuthRequired: true,
//	    ClientIP:     ips,
//	    Limiter:      limiter,
//	}
//	handler := http.NewHandler(&handlerCfg, service)
//	http.ListenAndServe(":8080", handler.Router())
//
// # Errors
//
// Errors are JSON bodies of the form {"error": code, "message": text}.
// Quota rejections add used_bytes and quota_bytes, rate limit rejections add
// retry_after.
package http
