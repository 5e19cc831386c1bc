package shop

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderPaid       OrderStatus = "paid"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// trackingSteps lists the fulfilment steps an order walks through, in order.
var trackingSteps = []OrderStatus{OrderPending, OrderPaid, OrderProcessing, OrderShipped, OrderDelivered}

var statusLabels = map[OrderStatus]string{
	OrderPending:    "Pending",
	OrderPaid:       "Paid",
	OrderProcessing: "Processing",
	OrderShipped:    "Shipped",
	OrderDelivered:  "Delivered",
	OrderCancelled:  "Cancelled",
}

// Label returns a human readable status, or the raw value for unknown statuses.
func (s OrderStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Cancellable reports whether the customer may still cancel the order.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending
}

type TrackingStep struct {
	Status    OrderStatus `json:"status"`
	Label     string      `json:"label"`
	Completed bool        `json:"completed"`
	Cancelled bool        `json:"cancelled"`
}

// Tracking expands a status into the fulfilment timeline shown in order history.
func (s OrderStatus) Tracking() []TrackingStep {
	reached := -1
	for i, st := range trackingSteps {
		if st == s {
			reached = i
		}
	}
	out := make([]TrackingStep, 0, len(trackingSteps))
	for i, st := range trackingSteps {
		step := TrackingStep{Status: st, Label: st.Label()}
		switch {
		case s == OrderCancelled:
			step.Completed = i == 0
			step.Cancelled = i > 0
		default:
			step.Completed = i <= reached
		}
		out = append(out, step)
	}
	return out
}
