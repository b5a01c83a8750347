package domain

// ModelAliases is the static model-name lookup table the pipeline
// consults before dispatch (spec: "Resolve model alias via the static
// table" — a declared external collaborator, here a fixed map rather than
// a config-driven one since the gateway fronts a single model per role).
// The original gateway hardcodes "qwen" for chat and "text2sql" for the
// text2sql role regardless of what the caller requested; we keep that
// behaviour but make the mapping explicit and overridable per role.
var ModelAliases = map[Role]string{
	RoleChat:     "qwen",
	RoleText2SQL: "text2sql",
}

// ResolveModel returns the canonical model name used for metrics labels
// and cache keys for role, falling back to the caller-supplied name when
// the role has no fixed alias (embed/rerank pass whatever model the
// backend reports).
func ResolveModel(role Role, requested string) string {
	if alias, ok := ModelAliases[role]; ok {
		return alias
	}
	return requested
}
