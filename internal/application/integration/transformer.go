package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erp/ledgersync/internal/domain/integration"
)

// RecordScope is stamped on every record produced for one page
type RecordScope struct {
	TenantID uuid.UUID
	RunID    uuid.UUID
	SyncedAt time.Time
}

// ---------------------------------------------------------------------------
// Field catalog
// ---------------------------------------------------------------------------

var (
	fieldExternalID = integration.NewField("id", "id", "Id", "ID", "uuid", "external_id", "code")
	fieldUpdatedAt  = integration.NewField("updated_at", "updated_at", "updatedAt", "last_modified", "modified_at", "meta.updated_at")
	fieldDeleted    = integration.NewField("deleted", "deleted", "is_deleted", "isDeleted", "voided", "is_voided", "isVoided")
	fieldStatus     = integration.NewField("status", "status", "state", "situation")
	fieldCurrency   = integration.NewField("currency", "currency", "currency_code", "currencyCode")
	fieldCategory   = integration.NewField("category", "category.name", "category_name", "category")
	fieldDesc       = integration.NewField("description", "description", "notes", "memo", "observation")
	fieldDocNumber  = integration.NewField("document_number", "document_number", "documentNumber", "number", "doc_number", "invoice_number")
	fieldDueDate    = integration.NewField("due_date", "due_date", "dueDate", "expiration_date")
	fieldDiscount   = integration.NewField("discount", "discount", "discount_amount", "discountAmount")
)

var (
	openItemCounterparty = integration.NewField("counterparty",
		"counterparty.name", "customer.name", "supplier.name", "counterparty_name", "customer_name", "supplier_name", "contact.name")
	openItemTaxID = integration.NewField("counterparty_tax_id",
		"counterparty.tax_id", "customer.tax_id", "supplier.tax_id", "tax_id", "taxId", "contact.document")
	openItemIssueDate = integration.NewField("issue_date", "issue_date", "issueDate", "date", "competence_date", "created_date")
	openItemAmount    = integration.NewField("amount", "amount", "total", "total_amount", "value")
	openItemBalance   = integration.NewField("open_balance", "open_balance", "openBalance", "balance", "amount_due", "outstanding")
)

var (
	paymentCounterparty = integration.NewField("counterparty",
		"counterparty.name", "customer.name", "supplier.name", "contact.name", "counterparty_name")
	paymentSettledAt = integration.NewField("settled_at", "payment_date", "paymentDate", "paid_at", "settled_at", "date")
	paymentAmount    = integration.NewField("amount", "amount_paid", "paid_amount", "paidAmount", "amount", "value")
	paymentFees      = integration.NewField("fees", "fees", "fee", "interest")
	paymentMethod    = integration.NewField("method", "payment_method", "paymentMethod", "method", "payment_type")
	paymentAccount   = integration.NewField("account", "account.name", "bank_account", "account")
)

var (
	inventorySKU       = integration.NewField("sku", "sku", "product_code", "product.sku", "code")
	inventoryDesc      = integration.NewField("description", "description", "name", "product.name")
	inventoryUnit      = integration.NewField("unit", "unit", "uom", "unit_of_measure")
	inventoryWarehouse = integration.NewField("warehouse", "warehouse.name", "warehouse", "location")
	inventoryQuantity  = integration.NewField("quantity", "quantity", "qty", "stock", "balance")
	inventoryUnitCost  = integration.NewField("unit_cost", "unit_cost", "unitCost", "average_cost", "cost")
	inventorySalePrice = integration.NewField("sale_price", "sale_price", "salePrice", "price")
)

var (
	salesOrderNumber = integration.NewField("order_number", "number", "order_number", "orderNumber")
	salesCustomer    = integration.NewField("customer", "customer.name", "customer_name", "client.name")
	salesOrderDate   = integration.NewField("order_date", "order_date", "orderDate", "date", "issue_date")
	salesItems       = integration.NewField("items", "items", "lines", "line_items", "products")
	lineProductID    = integration.NewField("product_id", "product.id", "product_id", "productId")
	lineSKU          = integration.NewField("sku", "product.sku", "product.code", "sku", "code")
	lineDesc         = integration.NewField("description", "description", "product.name", "name")
	lineQuantity     = integration.NewField("quantity", "quantity", "qty")
	lineUnitPrice    = integration.NewField("unit_price", "unit_price", "unitPrice", "price", "value")
	lineTotal        = integration.NewField("total", "total", "line_total", "amount")
)

// removedStatuses mark records the provider deleted or voided
var removedStatuses = map[string]bool{
	"deleted":   true,
	"voided":    true,
	"void":      true,
	"cancelled": true,
	"canceled":  true,
}

// ---------------------------------------------------------------------------
// Transformer
// ---------------------------------------------------------------------------

// Transformer maps raw provider records into domain records. It holds no
// state and never touches I/O.
type Transformer struct{}

// NewTransformer creates a transformer
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform maps one raw record. Deleted or voided records yield no records
// and no error. Records that cannot be mapped yield a *TransformError.
func (t *Transformer) Transform(scope RecordScope, module integration.ModuleID, raw integration.RawRecord) ([]integration.Record, error) {
	externalID := raw.String(fieldExternalID)
	if externalID == "" {
		return nil, &integration.TransformError{Module: module, Field: fieldExternalID.Name, Reason: "missing external id"}
	}
	if isRemoved(raw) {
		return nil, nil
	}

	r := &recordReader{raw: raw, module: module, externalID: externalID}
	meta := integration.RecordMeta{
		TenantID:          scope.TenantID,
		ExternalID:        externalID,
		ExternalUpdatedAt: r.date(fieldUpdatedAt),
		RunID:             scope.RunID,
		SyncedAt:          scope.SyncedAt,
	}

	var out []integration.Record
	switch module {
	case integration.ModuleReceivables:
		meta.ID = integration.CompositeID(scope.TenantID, module, externalID)
		out = []integration.Record{&integration.Receivable{OpenItem: r.openItem(meta)}}
	case integration.ModulePayables:
		meta.ID = integration.CompositeID(scope.TenantID, module, externalID)
		out = []integration.Record{&integration.Payable{OpenItem: r.openItem(meta)}}
	case integration.ModuleReceivedItems:
		meta.ID = integration.CompositeID(scope.TenantID, module, externalID)
		out = []integration.Record{r.payment(meta, integration.PaymentReceived)}
	case integration.ModulePaidItems:
		meta.ID = integration.CompositeID(scope.TenantID, module, externalID)
		out = []integration.Record{r.payment(meta, integration.PaymentPaid)}
	case integration.ModuleInventory:
		meta.ID = integration.CompositeID(scope.TenantID, module, externalID)
		out = []integration.Record{r.inventoryItem(meta)}
	case integration.ModuleSales:
		out = r.salesLines(meta)
	default:
		return nil, fmt.Errorf("%w: no transformer for module %q", integration.ErrModuleConfig, module)
	}

	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

func isRemoved(raw integration.RawRecord) bool {
	if raw.Bool(fieldDeleted) {
		return true
	}
	return removedStatuses[strings.ToLower(raw.String(fieldStatus))]
}

// recordReader keeps the first conversion failure of a record
type recordReader struct {
	raw        integration.RawRecord
	module     integration.ModuleID
	externalID string
	err        *integration.TransformError
}

func (r *recordReader) date(f integration.Field) *time.Time {
	if r.err != nil {
		return nil
	}
	ts, err := r.raw.Time(f)
	if err != nil {
		r.err = &integration.TransformError{
			Module:     r.module,
			ExternalID: r.externalID,
			Field:      f.Name,
			Reason:     err.Error(),
		}
		return nil
	}
	return ts
}

func (r *recordReader) openItem(meta integration.RecordMeta) integration.OpenItem {
	return integration.OpenItem{
		RecordMeta:        meta,
		DocumentNumber:    r.raw.String(fieldDocNumber),
		CounterpartyName:  r.raw.String(openItemCounterparty),
		CounterpartyTaxID: r.raw.String(openItemTaxID),
		Description:       r.raw.String(fieldDesc),
		IssueDate:         r.date(openItemIssueDate),
		DueDate:           r.date(fieldDueDate),
		Amount:            r.raw.Decimal(openItemAmount),
		OpenBalance:       r.raw.Decimal(openItemBalance),
		Currency:          strings.ToUpper(r.raw.String(fieldCurrency)),
		Status:            r.raw.String(fieldStatus),
		Category:          r.raw.String(fieldCategory),
	}
}

func (r *recordReader) payment(meta integration.RecordMeta, direction integration.PaymentDirection) *integration.Payment {
	return &integration.Payment{
		RecordMeta:       meta,
		Direction:        direction,
		DocumentNumber:   r.raw.String(fieldDocNumber),
		CounterpartyName: r.raw.String(paymentCounterparty),
		Description:      r.raw.String(fieldDesc),
		SettledAt:        r.date(paymentSettledAt),
		DueDate:          r.date(fieldDueDate),
		Amount:           r.raw.Decimal(paymentAmount),
		Fees:             r.raw.Decimal(paymentFees),
		Discount:         r.raw.Decimal(fieldDiscount),
		Currency:         strings.ToUpper(r.raw.String(fieldCurrency)),
		Method:           r.raw.String(paymentMethod),
		Account:          r.raw.String(paymentAccount),
		Category:         r.raw.String(fieldCategory),
	}
}

func (r *recordReader) inventoryItem(meta integration.RecordMeta) *integration.InventoryItem {
	return &integration.InventoryItem{
		RecordMeta:  meta,
		SKU:         r.raw.String(inventorySKU),
		Description: r.raw.String(inventoryDesc),
		Unit:        r.raw.String(inventoryUnit),
		Warehouse:   r.raw.String(inventoryWarehouse),
		Quantity:    r.raw.Decimal(inventoryQuantity),
		UnitCost:    r.raw.Decimal(inventoryUnitCost),
		SalePrice:   r.raw.Decimal(inventorySalePrice),
		SnapshotAt:  meta.SyncedAt,
	}
}

// salesLines fans an order out into one line per item, keyed by position
func (r *recordReader) salesLines(meta integration.RecordMeta) []integration.Record {
	orderNumber := r.raw.String(salesOrderNumber)
	customer := r.raw.String(salesCustomer)
	orderDate := r.date(salesOrderDate)
	status := r.raw.String(fieldStatus)
	currency := strings.ToUpper(r.raw.String(fieldCurrency))

	items := r.raw.Records(salesItems)
	out := make([]integration.Record, 0, len(items))
	for i, item := range items {
		lineMeta := meta
		lineMeta.ID = integration.CompositeID(meta.TenantID, integration.ModuleSales, meta.ExternalID, i)
		out = append(out, &integration.SalesLine{
			RecordMeta:        lineMeta,
			LineIndex:         i,
			OrderNumber:       orderNumber,
			CustomerName:      customer,
			OrderDate:         orderDate,
			Status:            status,
			ProductExternalID: item.String(lineProductID),
			SKU:               item.String(lineSKU),
			Description:       item.String(lineDesc),
			Quantity:          item.Decimal(lineQuantity),
			UnitPrice:         item.Decimal(lineUnitPrice),
			Discount:          item.Decimal(fieldDiscount),
			LineTotal:         item.Decimal(lineTotal),
			Currency:          currency,
		})
	}
	return out
}
