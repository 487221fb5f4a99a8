package models

// PermissionScope names an operation class a credential may perform.
type PermissionScope string

const (
	ScopeAll            PermissionScope = "*"
	ScopeTaskCreate     PermissionScope = "task:create"
	ScopeTaskManage     PermissionScope = "task:manage"
	ScopeEventPublish   PermissionScope = "event:publish"
	ScopeEventSubscribe PermissionScope = "event:subscribe"
	ScopeEventHistory   PermissionScope = "event:history"
	ScopeWebhookCreate  PermissionScope = "webhook:create"
)

// TaskAuthRuleMatch selects which scopes a per-task rule constrains.
type TaskAuthRuleMatch struct {
	Scope []PermissionScope `json:"scope"`
}

// TaskAuthRuleRequire lists claims a caller must present for matched scopes.
type TaskAuthRuleRequire struct {
	Claims map[string]any `json:"claims,omitempty"`
	Sub    []string       `json:"sub,omitempty"`
}

// TaskAuthRule is one per-task authorization constraint.
type TaskAuthRule struct {
	Match   TaskAuthRuleMatch   `json:"match"`
	Require TaskAuthRuleRequire `json:"require"`
}

// TaskAuthConfig carries per-task authorization rules.
type TaskAuthConfig struct {
	Rules []TaskAuthRule `json:"rules"`
}
