package models

import (
	"time"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// OpenItemModel holds the columns of receivables and payables
type OpenItemModel struct {
	RecordMetaModel
	DocumentNumber    string              `gorm:"type:varchar(100)"`
	CounterpartyName  string              `gorm:"type:varchar(255)"`
	CounterpartyTaxID string              `gorm:"type:varchar(50)"`
	Description       string              `gorm:"type:text"`
	IssueDate         *time.Time          `gorm:"type:date"`
	DueDate           *time.Time          `gorm:"type:date;index"`
	Amount            decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	OpenBalance       decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Currency          string              `gorm:"type:varchar(10)"`
	Status            string              `gorm:"type:varchar(50)"`
	Category          string              `gorm:"type:varchar(100)"`
}

func openItemFromDomain(o integration.OpenItem) OpenItemModel {
	return OpenItemModel{
		RecordMetaModel:   recordMetaFromDomain(o.RecordMeta),
		DocumentNumber:    o.DocumentNumber,
		CounterpartyName:  o.CounterpartyName,
		CounterpartyTaxID: o.CounterpartyTaxID,
		Description:       o.Description,
		IssueDate:         o.IssueDate,
		DueDate:           o.DueDate,
		Amount:            o.Amount,
		OpenBalance:       o.OpenBalance,
		Currency:          o.Currency,
		Status:            o.Status,
		Category:          o.Category,
	}
}

// SyncedReceivableModel is a receivable pulled from the provider
type SyncedReceivableModel struct {
	OpenItemModel
}

// TableName returns the table name for GORM
func (SyncedReceivableModel) TableName() string {
	return "synced_receivables"
}

// FromDomain populates the model from a domain Receivable
func (m *SyncedReceivableModel) FromDomain(r *integration.Receivable) {
	m.OpenItemModel = openItemFromDomain(r.OpenItem)
}

// SyncedPayableModel is a payable pulled from the provider
type SyncedPayableModel struct {
	OpenItemModel
}

// TableName returns the table name for GORM
func (SyncedPayableModel) TableName() string {
	return "synced_payables"
}

// FromDomain populates the model from a domain Payable
func (m *SyncedPayableModel) FromDomain(p *integration.Payable) {
	m.OpenItemModel = openItemFromDomain(p.OpenItem)
}

// SyncedPaymentModel is a settled item in either direction
type SyncedPaymentModel struct {
	RecordMetaModel
	Direction        string              `gorm:"type:varchar(10);not null;index"`
	DocumentNumber   string              `gorm:"type:varchar(100)"`
	CounterpartyName string              `gorm:"type:varchar(255)"`
	Description      string              `gorm:"type:text"`
	SettledAt        *time.Time          `gorm:"index"`
	DueDate          *time.Time          `gorm:"type:date"`
	Amount           decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Fees             decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Discount         decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Currency         string              `gorm:"type:varchar(10)"`
	Method           string              `gorm:"type:varchar(50)"`
	Account          string              `gorm:"type:varchar(100)"`
	Category         string              `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (SyncedPaymentModel) TableName() string {
	return "synced_payments"
}

// FromDomain populates the model from a domain Payment
func (m *SyncedPaymentModel) FromDomain(p *integration.Payment) {
	m.RecordMetaModel = recordMetaFromDomain(p.RecordMeta)
	m.Direction = string(p.Direction)
	m.DocumentNumber = p.DocumentNumber
	m.CounterpartyName = p.CounterpartyName
	m.Description = p.Description
	m.SettledAt = p.SettledAt
	m.DueDate = p.DueDate
	m.Amount = p.Amount
	m.Fees = p.Fees
	m.Discount = p.Discount
	m.Currency = p.Currency
	m.Method = p.Method
	m.Account = p.Account
	m.Category = p.Category
}

// SyncedInventoryItemModel is a stock position snapshot
type SyncedInventoryItemModel struct {
	RecordMetaModel
	SKU         string              `gorm:"type:varchar(100);index"`
	Description string              `gorm:"type:text"`
	Unit        string              `gorm:"type:varchar(20)"`
	Warehouse   string              `gorm:"type:varchar(100)"`
	Quantity    decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	UnitCost    decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	SalePrice   decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	SnapshotAt  time.Time           `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncedInventoryItemModel) TableName() string {
	return "synced_inventory_items"
}

// FromDomain populates the model from a domain InventoryItem
func (m *SyncedInventoryItemModel) FromDomain(i *integration.InventoryItem) {
	m.RecordMetaModel = recordMetaFromDomain(i.RecordMeta)
	m.SKU = i.SKU
	m.Description = i.Description
	m.Unit = i.Unit
	m.Warehouse = i.Warehouse
	m.Quantity = i.Quantity
	m.UnitCost = i.UnitCost
	m.SalePrice = i.SalePrice
	m.SnapshotAt = i.SnapshotAt
}

// SyncedSalesLineModel is one line of a provider sales order
type SyncedSalesLineModel struct {
	RecordMetaModel
	LineIndex         int                 `gorm:"not null"`
	OrderNumber       string              `gorm:"type:varchar(100);index"`
	CustomerName      string              `gorm:"type:varchar(255)"`
	OrderDate         *time.Time          `gorm:"index"`
	Status            string              `gorm:"type:varchar(50)"`
	ProductExternalID string              `gorm:"type:varchar(100)"`
	SKU               string              `gorm:"type:varchar(100)"`
	Description       string              `gorm:"type:text"`
	Quantity          decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	UnitPrice         decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Discount          decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	LineTotal         decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Currency          string              `gorm:"type:varchar(10)"`
}

// TableName returns the table name for GORM
func (SyncedSalesLineModel) TableName() string {
	return "synced_sales_lines"
}

// FromDomain populates the model from a domain SalesLine
func (m *SyncedSalesLineModel) FromDomain(l *integration.SalesLine) {
	m.RecordMetaModel = recordMetaFromDomain(l.RecordMeta)
	m.LineIndex = l.LineIndex
	m.OrderNumber = l.OrderNumber
	m.CustomerName = l.CustomerName
	m.OrderDate = l.OrderDate
	m.Status = l.Status
	m.ProductExternalID = l.ProductExternalID
	m.SKU = l.SKU
	m.Description = l.Description
	m.Quantity = l.Quantity
	m.UnitPrice = l.UnitPrice
	m.Discount = l.Discount
	m.LineTotal = l.LineTotal
	m.Currency = l.Currency
}
