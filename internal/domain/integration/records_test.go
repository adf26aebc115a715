package integration

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCompositeID(t *testing.T) {
	tenant := uuid.MustParse("8f8a7d36-4a3e-4f55-9c0b-6b7c3c2f1e10")

	a := CompositeID(tenant, ModuleReceivables, "123")
	b := CompositeID(tenant, ModuleReceivables, "123")
	assert.Equal(t, a, b, "same inputs must yield the same key")
	assert.Equal(t, uuid.Version(5), a.Version())

	assert.NotEqual(t, a, CompositeID(tenant, ModulePayables, "123"))
	assert.NotEqual(t, a, CompositeID(uuid.New(), ModuleReceivables, "123"))
	assert.NotEqual(t, CompositeID(tenant, ModuleSales, "9", 0), CompositeID(tenant, ModuleSales, "9", 1))
}

func TestPayment_RecordModule(t *testing.T) {
	assert.Equal(t, ModuleReceivedItems, Payment{Direction: PaymentReceived}.RecordModule())
	assert.Equal(t, ModulePaidItems, Payment{Direction: PaymentPaid}.RecordModule())
}

func TestTransformError(t *testing.T) {
	err := &TransformError{Module: ModuleSales, ExternalID: "7", Field: "order_date", Reason: "unparsable date"}
	assert.Equal(t, "transform SALES/7: field order_date: unparsable date", err.Error())
	assert.True(t, IsTransformError(err))
}
