package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type stepHandler func(ctx context.Context, sess *Session, ev Event) []Outbound

// Machine drives a Session through the order dialogue. It keeps no per-user
// state of its own; callers load and store sessions around Handle.
type Machine struct {
	catalog   ProductCatalog
	finalizer *Finalizer
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
	handlers  map[State]stepHandler
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

func NewMachine(cat ProductCatalog, finalizer *Finalizer, logger *zap.Logger, opts ...Option) *Machine {
	m := &Machine{
		catalog:   cat,
		finalizer: finalizer,
		logger:    logger,
		newID:     shortOrderID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registerHandlers()
	return m
}

func shortOrderID() string {
	return uuid.NewString()[:8]
}

func (m *Machine) registerHandlers() {
	m.handlers = map[State]stepHandler{
		StateAskName:            m.handleName,
		StateAskPhone:           m.handlePhone,
		StateAskItem:            m.handleItem,
		StateAskQty:             m.handleQuantity,
		StateAskMore:            m.handleMore,
		StateConfirm:            m.handleConfirm,
		StateAskDeliveryMethod:  m.handleDeliveryMethod,
		StateAskDeliveryAddress: m.handleDeliveryAddress,
	}
}

// Handle applies one event to a session and returns the session to store
// together with the replies. A returned session in StateTerminated has no
// draft and should be deleted.
func (m *Machine) Handle(ctx context.Context, sess Session, ev Event) (Session, []Outbound) {
	if ev.Kind == EventCommand {
		switch ev.Text {
		case CommandOrder:
			return m.start(ev)
		case CommandCancel:
			return m.cancel(sess, ev)
		default:
			return sess, reply(ev, msgUnknownCommand)
		}
	}

	handler, ok := m.handlers[sess.State]
	if !ok || sess.Draft == nil {
		if sess.State.Active() {
			m.logger.Warn("Dropping inconsistent session",
				zap.Int64("chat_id", ev.UserID),
				zap.Stringer("state", sess.State),
				zap.Bool("has_draft", sess.Draft != nil))
		}
		return Session{}, reply(ev, msgIdle)
	}

	out := handler(ctx, &sess, ev)
	if !sess.State.Active() {
		sess = Session{}
	}
	return sess, out
}

// start always replaces whatever the user had in progress.
func (m *Machine) start(ev Event) (Session, []Outbound) {
	draft := NewDraft(m.newID(), ev.Handle, m.now())

	m.logger.Info("Order started",
		zap.Int64("chat_id", ev.UserID),
		zap.String("order_id", draft.OrderID))

	return Session{State: StateAskName, Draft: draft}, reply(ev, msgAskName)
}

func (m *Machine) cancel(sess Session, ev Event) (Session, []Outbound) {
	if !sess.State.Active() {
		return Session{}, reply(ev, msgNothingToCancel)
	}

	fields := []zap.Field{zap.Int64("chat_id", ev.UserID), zap.Stringer("state", sess.State)}
	if sess.Draft != nil {
		fields = append(fields, zap.String("order_id", sess.Draft.OrderID))
	}
	m.logger.Info("Order cancelled by user", fields...)

	return Session{}, reply(ev, msgCancelled)
}

func (m *Machine) handleName(_ context.Context, sess *Session, ev Event) []Outbound {
	if ev.Kind != EventText {
		return reply(ev, msgAskNameAgain)
	}
	if err := sess.Draft.SetCustomerName(ev.Text); err != nil {
		return reply(ev, msgAskNameAgain)
	}

	sess.State = StateAskPhone
	return reply(ev, msgAskPhone)
}

func (m *Machine) handlePhone(_ context.Context, sess *Session, ev Event) []Outbound {
	if ev.Kind != EventText {
		return reply(ev, msgInvalidPhone)
	}
	if err := sess.Draft.SetPhone(ev.Text); err != nil {
		return reply(ev, msgInvalidPhone)
	}

	sess.State = StateAskItem
	return m.itemMenu(ev, msgAskItem)
}

func (m *Machine) handleItem(_ context.Context, sess *Session, ev Event) []Outbound {
	var name string

	switch ev.Kind {
	case EventSelection:
		product, isItem := ParseItemToken(ev.Text)
		if !isItem {
			return m.itemMenu(ev, msgInvalidItem)
		}
		// Item buttons are generated from the catalog, so a miss here means
		// the menu and the catalog disagree.
		if _, ok := m.catalog.Lookup(product); !ok {
			return m.abort(sess, ev, ErrUnknownProduct, zap.String("product", product))
		}
		name = product
	case EventText:
		product, ok := m.catalog.Find(ev.Text)
		if !ok {
			return m.itemMenu(ev, msgInvalidItem)
		}
		name = product.Name
	default:
		return m.itemMenu(ev, msgInvalidItem)
	}

	product, _ := m.catalog.Lookup(name)
	sess.PendingProduct = product.Name
	sess.State = StateAskQty
	return reply(ev, fmt.Sprintf(msgItemSelected, product.Name, formatMoney(product.Price)))
}

func (m *Machine) handleQuantity(_ context.Context, sess *Session, ev Event) []Outbound {
	if ev.Kind != EventText {
		return reply(ev, msgInvalidQuantity)
	}
	qty, err := ParseQuantity(ev.Text)
	if err != nil {
		return reply(ev, msgInvalidQuantity)
	}

	running, err := sess.Draft.AddLineItem(m.catalog, sess.PendingProduct, qty)
	if err != nil {
		return m.abort(sess, ev, err, zap.String("product", sess.PendingProduct))
	}

	added := sess.Draft.Items[len(sess.Draft.Items)-1]
	sess.PendingProduct = ""
	sess.State = StateAskMore
	return []Outbound{{
		UserID: ev.UserID,
		Text: fmt.Sprintf(msgItemAdded,
			added.Quantity,
			added.ProductName,
			formatMoney(added.Subtotal()),
			formatMoney(running)),
		Choices: yesNoChoices(TokenMoreYes, TokenMoreNo),
	}}
}

func (m *Machine) handleMore(_ context.Context, sess *Session, ev Event) []Outbound {
	yes, ok := parseYesNo(ev, TokenMoreYes, TokenMoreNo)
	if !ok {
		return []Outbound{{UserID: ev.UserID, Text: msgInvalidMore, Choices: yesNoChoices(TokenMoreYes, TokenMoreNo)}}
	}

	if yes {
		sess.State = StateAskItem
		return m.itemMenu(ev, msgAskItem)
	}

	sess.State = StateConfirm
	return []Outbound{{
		UserID:  ev.UserID,
		Text:    summary(sess.Draft),
		Choices: yesNoChoices(TokenConfirmYes, TokenConfirmNo),
	}}
}

func (m *Machine) handleConfirm(_ context.Context, sess *Session, ev Event) []Outbound {
	yes, ok := parseYesNo(ev, TokenConfirmYes, TokenConfirmNo)
	if !ok {
		return []Outbound{{UserID: ev.UserID, Text: msgInvalidConfirm, Choices: yesNoChoices(TokenConfirmYes, TokenConfirmNo)}}
	}

	if !yes {
		m.logger.Info("Order declined at confirmation",
			zap.Int64("chat_id", ev.UserID),
			zap.String("order_id", sess.Draft.OrderID))
		sess.State = StateTerminated
		return reply(ev, msgOrderCancelled)
	}

	sess.State = StateAskDeliveryMethod
	return deliveryMenu(ev, msgAskDelivery)
}

func (m *Machine) handleDeliveryMethod(ctx context.Context, sess *Session, ev Event) []Outbound {
	method, ok := parseDeliveryMethod(ev)
	if !ok {
		return deliveryMenu(ev, msgInvalidDelivery)
	}

	if method == DeliveryDeliver {
		sess.State = StateAskDeliveryAddress
		return reply(ev, msgAskAddress)
	}

	if err := sess.Draft.SetDelivery(DeliverySelfCollect, ""); err != nil {
		return m.abort(sess, ev, err)
	}
	return m.finalize(ctx, sess, ev)
}

func (m *Machine) handleDeliveryAddress(ctx context.Context, sess *Session, ev Event) []Outbound {
	if ev.Kind != EventText {
		return reply(ev, msgInvalidAddress)
	}
	if err := sess.Draft.SetDelivery(DeliveryDeliver, ev.Text); err != nil {
		return reply(ev, msgInvalidAddress)
	}
	return m.finalize(ctx, sess, ev)
}

func (m *Machine) finalize(ctx context.Context, sess *Session, ev Event) []Outbound {
	sess.State = StateFinalize

	receipt, err := m.finalizer.Finalize(ctx, sess.Draft)
	if err != nil {
		return m.abort(sess, ev, err)
	}

	sess.State = StateTerminated
	return reply(ev, receipt.Notice())
}

// abort ends the order after an internal inconsistency. Nothing is persisted.
func (m *Machine) abort(sess *Session, ev Event, err error, fields ...zap.Field) []Outbound {
	fields = append(fields,
		zap.Int64("chat_id", ev.UserID),
		zap.Stringer("state", sess.State),
		zap.Error(err))
	if sess.Draft != nil {
		fields = append(fields, zap.String("order_id", sess.Draft.OrderID))
	}
	m.logger.Error("Aborting order", fields...)

	sess.State = StateTerminated
	return reply(ev, msgOrderAborted)
}

func (m *Machine) itemMenu(ev Event, text string) []Outbound {
	products := m.catalog.Products()
	choices := make([]Choice, 0, len(products))
	for _, p := range products {
		choices = append(choices, Choice{Label: p.Name, Token: ItemToken(p.Name)})
	}
	return []Outbound{{UserID: ev.UserID, Text: text, Choices: choices}}
}

func deliveryMenu(ev Event, text string) []Outbound {
	return []Outbound{{
		UserID: ev.UserID,
		Text:   text,
		Choices: []Choice{
			{Label: labelSelfCollect, Token: TokenSelfCollect},
			{Label: labelDeliver, Token: TokenDeliver},
		},
	}}
}

func yesNoChoices(yesToken, noToken string) []Choice {
	return []Choice{
		{Label: labelYes, Token: yesToken},
		{Label: labelNo, Token: noToken},
	}
}

func reply(ev Event, text string) []Outbound {
	return []Outbound{{UserID: ev.UserID, Text: text}}
}

func parseYesNo(ev Event, yesToken, noToken string) (yes bool, ok bool) {
	switch ev.Kind {
	case EventSelection:
		switch ev.Text {
		case yesToken:
			return true, true
		case noToken:
			return false, true
		}
	case EventText:
		switch strings.ToLower(strings.TrimSpace(ev.Text)) {
		case "yes", "y":
			return true, true
		case "no", "n":
			return false, true
		}
	}
	return false, false
}

func parseDeliveryMethod(ev Event) (DeliveryMethod, bool) {
	switch ev.Kind {
	case EventSelection:
		switch ev.Text {
		case TokenSelfCollect:
			return DeliverySelfCollect, true
		case TokenDeliver:
			return DeliveryDeliver, true
		}
	case EventText:
		text := strings.Join(strings.Fields(strings.ToLower(ev.Text)), " ")
		switch text {
		case "self collect", "self-collect", "selfcollect", "collect", "pickup", "pick up":
			return DeliverySelfCollect, true
		case "deliver", "delivery":
			return DeliveryDeliver, true
		}
	}
	return DeliveryUnset, false
}
