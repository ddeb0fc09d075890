package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"soma-bot/internal/catalog"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownProduct  = errors.New("unknown product")
	ErrEmptyName       = errors.New("customer name is empty")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidDelivery = errors.New("invalid delivery")
	ErrDraftIncomplete = errors.New("order draft is incomplete")
)

// ProductCatalog is the read-only price list the conversation draws from.
type ProductCatalog interface {
	Lookup(name string) (catalog.Product, bool)
	Find(name string) (catalog.Product, bool)
	Products() []catalog.Product
}

type DeliveryMethod string

const (
	DeliveryUnset       DeliveryMethod = ""
	DeliverySelfCollect DeliveryMethod = "SELF_COLLECT"
	DeliveryDeliver     DeliveryMethod = "DELIVER"
)

func (m DeliveryMethod) Label() string {
	switch m {
	case DeliverySelfCollect:
		return "Self collect"
	case DeliveryDeliver:
		return "Delivery"
	default:
		return "Not chosen"
	}
}

type LineItem struct {
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Draft is the order a user is building. The state machine decides when each
// setter may be called; the setters only guard field-level invariants.
type Draft struct {
	OrderID         string         `json:"order_id"`
	CreatedAt       time.Time      `json:"created_at"`
	RequesterHandle string         `json:"requester_handle"`
	CustomerName    string         `json:"customer_name,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	Items           []LineItem     `json:"items,omitempty"`
	Delivery        DeliveryMethod `json:"delivery_method,omitempty"`
	Address         string         `json:"delivery_address,omitempty"`
}

func NewDraft(orderID, requesterHandle string, now time.Time) *Draft {
	return &Draft{
		OrderID:         orderID,
		CreatedAt:       now.UTC().Truncate(time.Second),
		RequesterHandle: requesterHandle,
	}
}

func (d *Draft) SetCustomerName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	d.CustomerName = name
	return nil
}

func (d *Draft) SetPhone(phone string) error {
	if !ValidatePhone(phone) {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	d.Phone = strings.TrimSpace(phone)
	return nil
}

// SetDelivery keeps the address empty unless the method is DeliveryDeliver,
// in which case it must be non-empty.
func (d *Draft) SetDelivery(method DeliveryMethod, address string) error {
	address = strings.TrimSpace(address)

	switch method {
	case DeliverySelfCollect:
		if address != "" {
			return fmt.Errorf("%w: address given for self collect", ErrInvalidDelivery)
		}
	case DeliveryDeliver:
		if address == "" {
			return fmt.Errorf("%w: delivery address is empty", ErrInvalidDelivery)
		}
	default:
		return fmt.Errorf("%w: method %q", ErrInvalidDelivery, method)
	}

	d.Delivery = method
	d.Address = address
	return nil
}

// AddLineItem prices the product from the catalog, appends it and returns the
// running total.
func (d *Draft) AddLineItem(cat ProductCatalog, productName string, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	product, ok := cat.Lookup(productName)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownProduct, productName)
	}

	d.Items = append(d.Items, LineItem{
		ProductName: product.Name,
		UnitPrice:   product.Price,
		Quantity:    quantity,
	})
	return d.Total(), nil
}

func (d *Draft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range d.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Ready reports whether the draft may be finalized.
func (d *Draft) Ready() error {
	var missing []string
	if d.OrderID == "" {
		missing = append(missing, "order id")
	}
	if d.CustomerName == "" {
		missing = append(missing, "customer name")
	}
	if d.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(d.Items) == 0 {
		missing = append(missing, "line items")
	}
	if d.Delivery == DeliveryUnset {
		missing = append(missing, "delivery method")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrDraftIncomplete, strings.Join(missing, ", "))
	}

	switch d.Delivery {
	case DeliverySelfCollect:
		if d.Address != "" {
			return fmt.Errorf("%w: address set for self collect", ErrInvalidDelivery)
		}
	case DeliveryDeliver:
		if d.Address == "" {
			return fmt.Errorf("%w: delivery address is empty", ErrInvalidDelivery)
		}
	default:
		return fmt.Errorf("%w: method %q", ErrInvalidDelivery, d.Delivery)
	}
	return nil
}
