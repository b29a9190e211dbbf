// Package domain holds the allocation ledger's data model: requests,
// experiments, item lines with their allocation state, the date/permission
// gate and status aggregation. Everything here is persistence-agnostic.
package domain

// ItemType is the closed set of item line variants.
type ItemType string

const (
	ItemTypeChemical  ItemType = "chemical"
	ItemTypeGlassware ItemType = "glassware"
	ItemTypeEquipment ItemType = "equipment"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeChemical, ItemTypeGlassware, ItemTypeEquipment:
		return true
	}
	return false
}

// Serialized reports whether the item type allocates discrete units
// rather than a quantity pool.
func (t ItemType) Serialized() bool {
	return t == ItemTypeEquipment
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxEntry       TransactionType = "entry"
	TxIssue       TransactionType = "issue"
	TxAllocation  TransactionType = "allocation"
	TxTransfer    TransactionType = "transfer"
	TxReturn      TransactionType = "return"
	TxBroken      TransactionType = "broken"
	TxMaintenance TransactionType = "maintenance"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxEntry, TxIssue, TxAllocation, TxTransfer, TxReturn, TxBroken, TxMaintenance:
		return true
	}
	return false
}

// RequestStatus is the lifecycle status of a faculty request.
type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusApproved           RequestStatus = "approved"
	StatusRejected           RequestStatus = "rejected"
	StatusFulfilled          RequestStatus = "fulfilled"
	StatusPartiallyFulfilled RequestStatus = "partially_fulfilled"
)

// Allocatable reports whether the ledger may mutate lines of a request in
// this status. Pending and rejected requests are out of scope for the
// engines.
func (s RequestStatus) Allocatable() bool {
	switch s {
	case StatusApproved, StatusFulfilled, StatusPartiallyFulfilled:
		return true
	}
	return false
}

// UnitStatus is the status of a serialized equipment unit.
type UnitStatus string

const (
	UnitAvailable   UnitStatus = "available"
	UnitIssued      UnitStatus = "issued"
	UnitAssigned    UnitStatus = "assigned"
	UnitMaintenance UnitStatus = "maintenance"
	UnitDiscarded   UnitStatus = "discarded"
)

// Well-known location codes. Labs are identified by their own codes;
// "faculty" is the symbolic consuming party a return originates from,
// never a stock-holding location.
const (
	LocationCentralStore = "central_store"
	LocationFaculty      = "faculty"
)
