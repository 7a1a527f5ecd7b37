package domain

// Role es una capacidad que el llamante necesita para operaciones con permiso.
type Role string

const (
	RolePublishPrice Role = "PUBLISH_PRICE"
	RoleMintTreasury Role = "MINT_TREASURY"
	RoleRebalance    Role = "REBALANCE"
)

func (r Role) String() string { return string(r) }
