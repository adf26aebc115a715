package integration

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// recordNamespace is the UUIDv5 namespace of composite record ids
var recordNamespace = uuid.MustParse("6f1c1c2e-7d0a-5b7e-9a55-3c1f0f2b8d41")

// CompositeID derives the deterministic storage key of a record from its
// tenant, module, provider id and optional line index. Re-transforming the same
// provider record always yields the same key.
func CompositeID(tenantID uuid.UUID, module ModuleID, externalID string, line ...int) uuid.UUID {
	var b strings.Builder
	b.WriteString(tenantID.String())
	b.WriteByte('|')
	b.WriteString(string(module))
	b.WriteByte('|')
	b.WriteString(externalID)
	for _, l := range line {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(l))
	}
	return uuid.NewSHA1(recordNamespace, []byte(b.String()))
}

// Record is a normalized domain record produced from a provider payload
type Record interface {
	RecordID() uuid.UUID
	RecordModule() ModuleID
	ExternalRef() string
}

// RecordMeta holds the fields shared by every synced record
type RecordMeta struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	ExternalID        string
	ExternalUpdatedAt *time.Time
	RunID             uuid.UUID
	SyncedAt          time.Time
}

// RecordID returns the composite id
func (m RecordMeta) RecordID() uuid.UUID { return m.ID }

// ExternalRef returns the provider entity id
func (m RecordMeta) ExternalRef() string { return m.ExternalID }

// ---------------------------------------------------------------------------
// Open items (receivables / payables)
// ---------------------------------------------------------------------------

// OpenItem is a document that is still owed to or by the tenant
type OpenItem struct {
	RecordMeta
	DocumentNumber    string
	CounterpartyName  string
	CounterpartyTaxID string
	Description       string
	IssueDate         *time.Time
	DueDate           *time.Time
	Amount            decimal.NullDecimal
	OpenBalance       decimal.NullDecimal
	Currency          string
	Status            string
	Category          string
}

// Receivable is an amount owed to the tenant
type Receivable struct{ OpenItem }

// RecordModule returns ModuleReceivables
func (Receivable) RecordModule() ModuleID { return ModuleReceivables }

// Payable is an amount the tenant owes
type Payable struct{ OpenItem }

// RecordModule returns ModulePayables
func (Payable) RecordModule() ModuleID { return ModulePayables }

// ---------------------------------------------------------------------------
// Settlements
// ---------------------------------------------------------------------------

// PaymentDirection distinguishes money received from money paid
type PaymentDirection string

const (
	PaymentReceived PaymentDirection = "RECEIVED"
	PaymentPaid     PaymentDirection = "PAID"
)

// Payment is a settled item, received from a customer or paid to a supplier
type Payment struct {
	RecordMeta
	Direction        PaymentDirection
	DocumentNumber   string
	CounterpartyName string
	Description      string
	SettledAt        *time.Time
	DueDate          *time.Time
	Amount           decimal.NullDecimal
	Fees             decimal.NullDecimal
	Discount         decimal.NullDecimal
	Currency         string
	Method           string
	Account          string
	Category         string
}

// RecordModule derives the module from the direction
func (p Payment) RecordModule() ModuleID {
	if p.Direction == PaymentPaid {
		return ModulePaidItems
	}
	return ModuleReceivedItems
}

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

// InventoryItem is a point-in-time stock position of a product
type InventoryItem struct {
	RecordMeta
	SKU         string
	Description string
	Unit        string
	Warehouse   string
	Quantity    decimal.NullDecimal
	UnitCost    decimal.NullDecimal
	SalePrice   decimal.NullDecimal
	SnapshotAt  time.Time
}

// RecordModule returns ModuleInventory
func (InventoryItem) RecordModule() ModuleID { return ModuleInventory }

// ---------------------------------------------------------------------------
// Sales
// ---------------------------------------------------------------------------

// SalesLine is one item of a provider sales order. ExternalID is the order id
// and LineIndex the item position, together they form the composite key.
type SalesLine struct {
	RecordMeta
	LineIndex         int
	OrderNumber       string
	CustomerName      string
	OrderDate         *time.Time
	Status            string
	ProductExternalID string
	SKU               string
	Description       string
	Quantity          decimal.NullDecimal
	UnitPrice         decimal.NullDecimal
	Discount          decimal.NullDecimal
	LineTotal         decimal.NullDecimal
	Currency          string
}

// RecordModule returns ModuleSales
func (SalesLine) RecordModule() ModuleID { return ModuleSales }
