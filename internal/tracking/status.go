package tracking

import "time"

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusReturned   OrderStatus = "returned"
	StatusRefunded   OrderStatus = "refunded"
)

// Terminal reports whether no further transitions are simulated past this
// status. Manual transitions out of terminal states remain possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturned, StatusRefunded:
		return true
	}
	return false
}

type ShippingStatus string

const (
	ShipNotShipped     ShippingStatus = "not_shipped"
	ShipPreparing      ShippingStatus = "preparing"
	ShipShipped        ShippingStatus = "shipped"
	ShipInTransit      ShippingStatus = "in_transit"
	ShipOutForDelivery ShippingStatus = "out_for_delivery"
	ShipDelivered      ShippingStatus = "delivered"
	ShipFailed         ShippingStatus = "delivery_failed"
)

// Customer-facing messages default from the shipping sub-status first, then
// the order status, then a generic fallback.
var shippingMessages = map[ShippingStatus]string{
	ShipPreparing:      "Đơn hàng đang được chuẩn bị",
	ShipShipped:        "Đơn hàng đã được giao cho đơn vị vận chuyển",
	ShipInTransit:      "Đơn hàng đang trên đường vận chuyển",
	ShipOutForDelivery: "Đơn hàng đang được giao đến bạn",
	ShipDelivered:      "Đơn hàng đã được giao thành công",
	ShipFailed:         "Giao hàng không thành công",
}

var statusMessages = map[OrderStatus]string{
	StatusPending:    "Đơn hàng đang chờ xác nhận",
	StatusConfirmed:  "Đơn hàng đã được xác nhận",
	StatusProcessing: "Đơn hàng đang được xử lý",
	StatusShipped:    "Đơn hàng đã được gửi đi",
	StatusDelivered:  "Đơn hàng đã được giao",
	StatusCancelled:  "Đơn hàng đã bị hủy",
	StatusReturned:   "Đơn hàng đã được trả lại",
	StatusRefunded:   "Đơn hàng đã được hoàn tiền",
}

const (
	genericMessage = "Cập nhật trạng thái đơn hàng"
	createdMessage = "Đơn hàng đã được tạo"
)

// DefaultMessage resolves the human-readable message for a status pair.
func DefaultMessage(status OrderStatus, shipping ShippingStatus) string {
	if msg, ok := shippingMessages[shipping]; ok {
		return msg
	}
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return genericMessage
}

// ProgressionStep is one step of the scripted shipment simulation.
type ProgressionStep struct {
	Status   OrderStatus
	Shipping ShippingStatus
	Location string
	Delay    time.Duration
}

// progressionScript is the canonical linear lifecycle the simulation walks.
// The first entry is the initial state of a fresh order, not an applied
// transition; a run resumes after the order's current position.
var progressionScript = []ProgressionStep{
	{Status: StatusPending, Shipping: ShipNotShipped},
	{Status: StatusConfirmed, Shipping: ShipNotShipped, Delay: 5 * time.Second},
	{Status: StatusProcessing, Shipping: ShipPreparing, Location: "Kho hàng TP.HCM", Delay: 10 * time.Second},
	{Status: StatusShipped, Shipping: ShipShipped, Location: "Trung tâm phân loại TP.HCM", Delay: 15 * time.Second},
	{Status: StatusShipped, Shipping: ShipInTransit, Location: "Đang trung chuyển liên tỉnh", Delay: 20 * time.Second},
	{Status: StatusShipped, Shipping: ShipOutForDelivery, Location: "Bưu cục giao nhận địa phương", Delay: 20 * time.Second},
	{Status: StatusDelivered, Shipping: ShipDelivered, Location: "Địa chỉ người nhận", Delay: 10 * time.Second},
}

// scriptPosition returns the index of the pair in the script, or -1.
func scriptPosition(status OrderStatus, shipping ShippingStatus) int {
	for i, step := range progressionScript {
		if step.Status == status && step.Shipping == shipping {
			return i
		}
	}
	return -1
}
