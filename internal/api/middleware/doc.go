/*
Package middleware holds the gin middleware in front of the overlay API:
request ids, access logging, CORS and per-client rate limiting.

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger))
	router.Use(middleware.CORS(middleware.CORSFor(cfg.Server.AllowedOrigins)))
	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
*/
package middleware
