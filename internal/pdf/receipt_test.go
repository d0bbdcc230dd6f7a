package pdf

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udensfiltri/internal/models"
)

func TestOrderReceipt(t *testing.T) {
	email := "buyer@example.com"
	pid := int64(1)
	o := &models.Order{
		ID:         12,
		Email:      &email,
		Currency:   "EUR",
		TotalCents: 3400,
		Status:     models.OrderPaid,
		Items: []models.OrderItem{{
			Type: models.ItemProduct, ProductID: &pid, Name: "Reverse osmosis filter",
			Qty: 2, BaseUnitPriceCents: 2000, DiscountPercent: 15, UnitPriceCents: 1700,
		}},
	}

	out, err := NewReceiptGenerator("", "Udens Filtri").OrderReceipt(o, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Greater(t, len(out), 500)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "17.00", money(1700))
	assert.Equal(t, "0.05", money(5))
}
