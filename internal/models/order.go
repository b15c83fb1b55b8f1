package models

import (
	"time"
)

// Order represents one purchased transaction loaded from the orders file.
// Location fields are populated by the enrichment join and use pointers to
// distinguish between empty values and NULL (not yet enriched).
type Order struct {
	OrderNumber string    `json:"order_number" validate:"required"`
	OrderDate   time.Time `json:"order_date" validate:"required"`
	IPAddress   string    `json:"ip_address"`
	City        *string   `json:"city,omitempty"`
	State       *string   `json:"state,omitempty"`
	ZipCode     *string   `json:"zip_code,omitempty"`
	SaleAmount  float64   `json:"sale_amount" validate:"gte=0"`
}

// Enriched reports whether the order carries resolved location fields.
func (o *Order) Enriched() bool {
	return o.City != nil || o.State != nil || o.ZipCode != nil
}

// ExportRow is the flat export projection of an order: the order number
// plus whatever location fields enrichment produced.
type ExportRow struct {
	OrderNumber string  `json:"order_number"`
	City        *string `json:"city,omitempty"`
	State       *string `json:"state,omitempty"`
	ZipCode     *string `json:"zip_code,omitempty"`
}

// QuarterlySales is one row of the quarterly sales report: total sales for
// one city within one calendar quarter.
type QuarterlySales struct {
	Quarter    int     `json:"quarter"`
	City       string  `json:"city"`
	TotalSales float64 `json:"total_sales"`
}
