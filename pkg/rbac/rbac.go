package rbac

// 权限常量
const (
	PermissionReadAlerts    = "alerts:read"
	PermissionReadMetrics   = "metrics:read"
	PermissionReadOutbox    = "outbox:read"
	PermissionReplayOutbox  = "outbox:replay"
	PermissionTriggerIngest = "ingestion:trigger"
)

// 角色常量
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadAlerts,
		PermissionReadMetrics,
	},
	RoleOperator: {
		PermissionReadAlerts,
		PermissionReadMetrics,
		PermissionReadOutbox,
		PermissionTriggerIngest,
	},
	RoleAdmin: {
		PermissionReadAlerts,
		PermissionReadMetrics,
		PermissionReadOutbox,
		PermissionReplayOutbox,
		PermissionTriggerIngest,
	},
}

// IsKnownRole 是否为已定义的角色
func IsKnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 返回错误而不是布尔值，便于处理
func CheckPermission(subject, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Subject:    subject,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Subject    string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
