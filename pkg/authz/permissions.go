package authz

const (
	PermissionViewSalesPipelines = "VIEW_SALES_PIPELINES"
	PermissionEditSalesPipelines = "EDIT_SALES_PIPELINES"
)

const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleEmployee   = "EMPLOYEE"
	RoleViewer     = "VIEWER"
)

// DefaultPolicies mirrors the stock role grants for the sales pipeline module.
var DefaultPolicies = []string{
	RoleSuperAdmin + "," + PermissionViewSalesPipelines,
	RoleSuperAdmin + "," + PermissionEditSalesPipelines,
	RoleAdmin + "," + PermissionViewSalesPipelines,
	RoleAdmin + "," + PermissionEditSalesPipelines,
	RoleManager + "," + PermissionViewSalesPipelines,
	RoleManager + "," + PermissionEditSalesPipelines,
	RoleEmployee + "," + PermissionViewSalesPipelines,
	RoleViewer + "," + PermissionViewSalesPipelines,
}
