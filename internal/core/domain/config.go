package domain

import "time"

// RoleBackends is the static backend topology resolved from config: one
// round-robin pool for chat, one backend each for the other roles.
type RoleBackends struct {
	Chat     []string
	Text2SQL string
	Embed    string
	Rerank   string
}

// HealthConfig holds the health monitor's probe tunables.
type HealthConfig struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}
