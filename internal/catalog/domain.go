package catalog

// Product is the read-only product view the core needs: which unit tracks
// stock and whether the product is stocked at all (service lines are not).
type Product struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenant_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	StockUnit string `json:"stock_unit"`
	Stocked   bool   `json:"stocked"`
}

// PartyKind distinguishes customers from suppliers.
type PartyKind string

const (
	// PartyCustomer marks a sales-side party.
	PartyCustomer PartyKind = "CUSTOMER"
	// PartySupplier marks a procurement-side party.
	PartySupplier PartyKind = "SUPPLIER"
)

// Party is the customer/supplier view copied onto documents at creation
// time. The name is denormalized for historical accuracy and never
// re-resolved afterwards.
type Party struct {
	ID       int64     `json:"id"`
	TenantID int64     `json:"tenant_id"`
	Kind     PartyKind `json:"kind"`
	Name     string    `json:"name"`
}
