package bot

import (
	"context"
	"fmt"
	"strings"

	"soma-bot/internal/conversation"

	"go.uber.org/zap"
)

// AdminNotifier posts a short summary of every placed order to an admin
// chat or channel.
type AdminNotifier struct {
	bot    *Bot
	chatID int64
}

func (b *Bot) AdminNotifier(chatID int64) *AdminNotifier {
	return &AdminNotifier{bot: b, chatID: chatID}
}

func (n *AdminNotifier) OrderPlaced(ctx context.Context, receipt conversation.Receipt) {
	if n.chatID == 0 {
		return
	}

	text := adminOrderText(receipt)
	if err := n.bot.Send(ctx, conversation.Outbound{UserID: n.chatID, Text: text}); err != nil {
		n.bot.logger.Error("Failed to send admin notification",
			zap.Int64("admin_chat_id", n.chatID),
			zap.String("order_id", receipt.OrderID),
			zap.Error(err))
	}
}

func adminOrderText(r conversation.Receipt) string {
	if len(r.Records) == 0 {
		return fmt.Sprintf("📦 New order %s\nTotal: %s", r.OrderID, r.Total.StringFixed(2))
	}
	head := r.Records[0]

	var address string
	if head.DeliveryAddress != "" {
		address = fmt.Sprintf("Address: %s\n", head.DeliveryAddress)
	}

	handle := "-"
	if head.RequesterHandle != "" {
		handle = head.RequesterHandle
	}

	var items strings.Builder
	for _, rec := range r.Records {
		fmt.Fprintf(&items, "  %s × %d = %s\n", rec.ProductName, rec.Quantity, rec.Subtotal().StringFixed(2))
	}

	return fmt.Sprintf(adminOrderTemplate,
		r.OrderID,
		head.CustomerName,
		head.Phone,
		handle,
		head.DeliveryMethod.Label(),
		address,
		items.String(),
		r.Total.StringFixed(2))
}
