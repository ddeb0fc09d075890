package conversation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	msgAskName          = "Customer name?"
	msgAskNameAgain     = "Please type the customer's name."
	msgAskPhone         = "Phone number? (e.g., +65 9123 4567)"
	msgInvalidPhone     = "Please enter a valid phone number (e.g., +65 9123 4567)."
	msgAskItem          = "Choose your perfume:"
	msgInvalidItem      = "Please choose a perfume from the list."
	msgItemSelected     = "Selected: %s\nUnit price: %s\n\nQuantity? (e.g., 1)"
	msgInvalidQuantity  = "Please enter a valid quantity (whole number, e.g., 1)."
	msgItemAdded        = "Added %d × %s (%s).\nRunning total: %s\n\nAdd another item?"
	msgInvalidMore      = "Please choose Yes to add another item or No to continue."
	msgInvalidConfirm   = "Please reply YES to confirm or NO to cancel."
	msgAskDelivery      = "How would you like to receive your order?"
	msgInvalidDelivery  = "Please choose Self collect or Deliver."
	msgAskAddress       = "Delivery address?"
	msgInvalidAddress   = "Please type the delivery address."
	msgOrderCancelled   = "Order cancelled."
	msgCancelled        = "Cancelled. You can start again with /order."
	msgNothingToCancel  = "There is no order in progress. Use /order to start one."
	msgIdle             = "Use /order to place an order."
	msgUnknownCommand   = "Unknown command. Use /help to see what I can do."
	msgOrderAborted     = "Sorry, something went wrong with your order and it was not saved. Please start again with /order."
	msgOrderPlaced      = "✅ Order placed! ID: %s\nTotal: %s"
	msgSaveFailed       = "❌ Failed to save your order. Please try again later.\nOrder ID for reference: %s"
	labelYes            = "Yes"
	labelNo             = "No"
	labelSelfCollect    = "Self collect"
	labelDeliver        = "Deliver"
	confirmSummaryTitle = "Please confirm your order:"
)

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func summary(d *Draft) string {
	var sb strings.Builder
	sb.WriteString(confirmSummaryTitle + "\n")
	fmt.Fprintf(&sb, "• Name: %s\n", d.CustomerName)
	fmt.Fprintf(&sb, "• Phone: %s\n", d.Phone)
	sb.WriteString("• Items:\n")
	for _, item := range d.Items {
		fmt.Fprintf(&sb, "   – %s × %d @ %s = %s\n",
			item.ProductName,
			item.Quantity,
			formatMoney(item.UnitPrice),
			formatMoney(item.Subtotal()))
	}
	fmt.Fprintf(&sb, "• Estimated Total: %s\n\n", formatMoney(d.Total()))
	sb.WriteString("Reply YES to confirm or NO to cancel.")
	return sb.String()
}
