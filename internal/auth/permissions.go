package auth

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	PermActionsSubmit     = "actions.submit"
	PermActionsReview     = "actions.review"
	PermAccountRead       = "account.read"
	PermMarketplaceRedeem = "marketplace.redeem"
	PermMarketplaceManage = "marketplace.manage"
	PermRegistryClaim     = "registry.claim"
	PermRegistryExport    = "registry.export"
)

// RolePermissions lists what each built-in role grants.
var RolePermissions = map[string][]string{
	RoleUser: {
		PermActionsSubmit,
		PermAccountRead,
		PermMarketplaceRedeem,
		PermRegistryClaim,
	},
	RoleAdmin: {
		PermActionsSubmit,
		PermAccountRead,
		PermMarketplaceRedeem,
		PermRegistryClaim,
		PermActionsReview,
		PermMarketplaceManage,
		PermRegistryExport,
	},
}
