package bot

const (
	msgWelcome         = "Welcome to SOMA orders.\nUse /order to place an order.\nUse /cancel anytime to stop."
	msgHelp            = "/order – start an order\n/cancel – cancel current order\n/info – list our perfumes\n/info <name> – details about one perfume"
	msgInfoHeader      = "Our perfumes:"
	msgInfoUnknown     = "I don't know a perfume called %q. Use /info to see the list."
	msgThrottled       = "⏳ You're sending messages too quickly. Please wait a moment."
	msgBusy            = "⏳ We're busy right now. Please try again in a moment."
	msgUnsupportedKind = "Please reply with text or use the buttons."

	adminOrderTemplate = "📦 New order %s\n" +
		"Customer: %s\n" +
		"Phone: %s\n" +
		"TG: %s\n" +
		"Delivery: %s\n" +
		"%s" +
		"Items:\n%s" +
		"Total: %s"
)
