package conversation

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusNew = "NEW"

	TimestampLayout = "2006-01-02T15:04:05Z"
)

// Columns is the persisted column order. Downstream sheets depend on it.
var Columns = []string{
	"order_id",
	"timestamp",
	"requester_handle",
	"customer_name",
	"phone",
	"delivery_method",
	"delivery_address",
	"product_name",
	"unit_price",
	"quantity",
	"status",
}

// OrderRecord is one persisted row: a single line item of a placed order.
type OrderRecord struct {
	OrderID         string
	Timestamp       time.Time
	RequesterHandle string
	CustomerName    string
	Phone           string
	DeliveryMethod  DeliveryMethod
	DeliveryAddress string
	ProductName     string
	UnitPrice       decimal.Decimal
	Quantity        int
	Status          string
}

func (r OrderRecord) TimestampUTC() string {
	return r.Timestamp.UTC().Format(TimestampLayout)
}

func (r OrderRecord) Subtotal() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// Values returns the row cells in Columns order.
func (r OrderRecord) Values() []any {
	return []any{
		r.OrderID,
		r.TimestampUTC(),
		r.RequesterHandle,
		r.CustomerName,
		r.Phone,
		string(r.DeliveryMethod),
		r.DeliveryAddress,
		r.ProductName,
		r.UnitPrice.String(),
		r.Quantity,
		r.Status,
	}
}

// RecordsFor expands a ready draft into one record per line item, in order.
func RecordsFor(d *Draft) []OrderRecord {
	records := make([]OrderRecord, 0, len(d.Items))
	for _, item := range d.Items {
		records = append(records, OrderRecord{
			OrderID:         d.OrderID,
			Timestamp:       d.CreatedAt.UTC().Truncate(time.Second),
			RequesterHandle: d.RequesterHandle,
			CustomerName:    d.CustomerName,
			Phone:           d.Phone,
			DeliveryMethod:  d.Delivery,
			DeliveryAddress: d.Address,
			ProductName:     item.ProductName,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			Status:          StatusNew,
		})
	}
	return records
}
