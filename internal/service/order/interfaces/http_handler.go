package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"scm/internal/pkg/logger"
	"scm/internal/service/order/application"
	"scm/internal/service/order/domain"
)

// OrderHandler 订单服务的 HTTP 处理器。
type OrderHandler struct {
	service *application.OrderService
}

func NewOrderHandler(service *application.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/orders", h.ordersHandler)
	mux.HandleFunc("/orders/cancel", h.cancelHandler)
	mux.HandleFunc("/orders/ship", h.statusHandler((*application.OrderService).Ship))
	mux.HandleFunc("/orders/deliver", h.statusHandler((*application.OrderService).Deliver))
}

type createOrderRequest struct {
	CustomerID string             `json:"customerId"`
	Items      []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	ProductCode string  `json:"productCode"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	WarehouseID string  `json:"warehouseId"`
}

type orderActionRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

// ordersHandler POST 创建订单，GET 按 id 或客户查询。
func (h *OrderHandler) ordersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	switch r.Method {
	case http.MethodPost:
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		items := make([]application.CreateOrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, application.CreateOrderItem{
				ProductCode: item.ProductCode,
				Quantity:    item.Quantity,
				Price:       item.Price,
				WarehouseID: item.WarehouseID,
			})
		}
		order, err := h.service.CreateOrder(ctx, req.CustomerID, items)
		respond(ctx, w, order, err)

	case http.MethodGet:
		if customerID := r.URL.Query().Get("customerId"); customerID != "" {
			orders, err := h.service.ListByCustomer(ctx, customerID)
			respond(ctx, w, orders, err)
			return
		}
		order, err := h.service.GetOrder(ctx, r.URL.Query().Get("id"))
		respond(ctx, w, order, err)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *OrderHandler) cancelHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by user"
	}
	order, err := h.service.CancelOrder(ctx, req.OrderID, reason)
	respond(ctx, w, order, err)
}

func (h *OrderHandler) statusHandler(op func(s *application.OrderService, ctx context.Context, orderID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := extract(r)
		req, ok := decodeAction(w, r)
		if !ok {
			return
		}
		if err := op(h.service, ctx, req.OrderID); err != nil {
			writeError(ctx, w, err)
			return
		}
		order, err := h.service.GetOrder(ctx, req.OrderID)
		respond(ctx, w, order, err)
	}
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func decodeAction(w http.ResponseWriter, r *http.Request) (*orderActionRequest, bool) {
	var req orderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if req.OrderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func respond(ctx context.Context, w http.ResponseWriter, body any, err error) {
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// writeError 把领域错误映射成 HTTP 状态码：不存在 404，非法转换 409，入参错误 400。
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var notFound *domain.NotFoundError
	var invalidStatus *domain.InvalidStatusError
	var emptyOrder *domain.EmptyOrderError
	var invalidQty *domain.InvalidQuantityError

	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalidStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &emptyOrder), errors.As(err, &invalidQty):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("order request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
