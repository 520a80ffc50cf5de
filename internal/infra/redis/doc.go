// Package redis provides the Redis-backed pieces of the webhook service.
//
// # Overview
//
//   - Client: connection management with TLS, pooling and retry on startup
//   - RegistrationStore: webhook.Store on per-user hashes with Lua-guarded
//     optimistic versions
//   - RateLimiter: distributed sliding-window limiter for the control API
//   - OutcomeBus: pub/sub fan-out of delivery outcomes between queue workers
//     and API instances
//
// # Key layout
//
// All keys live under the configured prefix (REDIS_KEY_PREFIX):
//
//	{prefix}:registrations:{user}   hash  id -> registration JSON
//	{prefix}:versions:{user}        hash  id -> integer version
//	{prefix}:users                  zset  users with at least one registration
//	{prefix}:ratelimit:{key}        zset  request timestamps
//	{prefix}:outcomes               channel for delivery outcomes
package redis
