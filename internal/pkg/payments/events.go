package payments

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// EventKind is the closed set of provider event types the dispatcher handles.
// Anything else classifies as EventUnhandled and is acknowledged untouched.
type EventKind int

const (
	EventUnhandled EventKind = iota
	EventCheckoutSessionCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventInvoicePaymentSucceeded
	EventInvoicePaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCheckoutSessionCompleted:
		return "checkout.session.completed"
	case EventSubscriptionCreated:
		return "customer.subscription.created"
	case EventSubscriptionUpdated:
		return "customer.subscription.updated"
	case EventSubscriptionDeleted:
		return "customer.subscription.deleted"
	case EventInvoicePaymentSucceeded:
		return "invoice.payment_succeeded"
	case EventInvoicePaymentFailed:
		return "invoice.payment_failed"
	default:
		return "unhandled"
	}
}

// ClassifyEventType maps a raw provider event type to an EventKind.
func ClassifyEventType(eventType string) EventKind {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "checkout.session.completed":
		return EventCheckoutSessionCompleted
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.payment_succeeded":
		return EventInvoicePaymentSucceeded
	case "invoice.payment_failed":
		return EventInvoicePaymentFailed
	default:
		return EventUnhandled
	}
}

// Event is the provider webhook envelope.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Kind classifies the envelope's event type.
func (e *Event) Kind() EventKind {
	return ClassifyEventType(e.Type)
}

// ParseEvent decodes a webhook envelope. The object body stays raw until the
// dispatcher normalizes it.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, errors.New("webhook event missing type")
	}
	return &ev, nil
}

// EventObject is the normalized provider object body. Every field is optional
// on the wire; absent fields mean "no change", never an error.
type EventObject struct {
	ID               string
	Customer         string
	Subscription     string
	Status           string
	Mode             string
	PriceID          string
	CurrentPeriodEnd *time.Time
	CancelAt         *time.Time
	AmountTotalCents int64
	Currency         string
	AttemptCount     int
	BillingReason    string
	Metadata         map[string]string
}

// ParseEventObject normalizes the provider-native object body across the
// checkout-session, subscription and invoice shapes.
func ParseEventObject(raw json.RawMessage) (*EventObject, error) {
	type priceRef struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	}
	type rawObject struct {
		ID               string            `json:"id"`
		Customer         string            `json:"customer"`
		Subscription     string            `json:"subscription"`
		Status           string            `json:"status"`
		Mode             string            `json:"mode"`
		CurrentPeriodEnd int64             `json:"current_period_end"`
		CancelAt         int64             `json:"cancel_at"`
		AmountTotal      int64             `json:"amount_total"`
		AmountPaid       int64             `json:"amount_paid"`
		Currency         string            `json:"currency"`
		AttemptCount     int               `json:"attempt_count"`
		BillingReason    string            `json:"billing_reason"`
		Metadata         map[string]string `json:"metadata"`
		Items            struct {
			Data []priceRef `json:"data"`
		} `json:"items"`
		Lines struct {
			Data []priceRef `json:"data"`
		} `json:"lines"`
	}

	var o rawObject
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}

	out := &EventObject{
		ID:            strings.TrimSpace(o.ID),
		Customer:      strings.TrimSpace(o.Customer),
		Subscription:  strings.TrimSpace(o.Subscription),
		Status:        strings.ToLower(strings.TrimSpace(o.Status)),
		Mode:          strings.ToLower(strings.TrimSpace(o.Mode)),
		Currency:      strings.ToLower(strings.TrimSpace(o.Currency)),
		AttemptCount:  o.AttemptCount,
		BillingReason: strings.ToLower(strings.TrimSpace(o.BillingReason)),
		Metadata:      o.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}

	// Subscription objects carry their own id, invoices reference one.
	if out.Subscription == "" && strings.HasPrefix(out.ID, "sub_") {
		out.Subscription = out.ID
	}

	if o.AmountTotal > 0 {
		out.AmountTotalCents = o.AmountTotal
	} else if o.AmountPaid > 0 {
		out.AmountTotalCents = o.AmountPaid
	}

	if len(o.Items.Data) > 0 {
		out.PriceID = strings.TrimSpace(o.Items.Data[0].Price.ID)
	} else if len(o.Lines.Data) > 0 {
		out.PriceID = strings.TrimSpace(o.Lines.Data[0].Price.ID)
	}

	if o.CurrentPeriodEnd > 0 {
		t := time.Unix(o.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	if o.CancelAt > 0 {
		t := time.Unix(o.CancelAt, 0).UTC()
		out.CancelAt = &t
	}

	return out, nil
}

// MetaString returns the first non-empty metadata value among keys. Both
// camelCase and snake_case variants appear in the wild.
func (o *EventObject) MetaString(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(o.Metadata[k]); v != "" {
			return v
		}
	}
	return ""
}

// MetaUint parses the first non-empty metadata value among keys as an id.
func (o *EventObject) MetaUint(keys ...string) uint {
	v := o.MetaString(keys...)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

// MetaInt64 parses the first non-empty metadata value among keys as an amount.
func (o *EventObject) MetaInt64(keys ...string) int64 {
	v := o.MetaString(keys...)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
