package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"scm/internal/pkg/logger"
	"scm/internal/service/inventory/application"
	"scm/internal/service/inventory/domain"
)

// InventoryHandler 库存服务的 HTTP 处理器。
type InventoryHandler struct {
	service *application.InventoryService
}

func NewInventoryHandler(service *application.InventoryService) *InventoryHandler {
	return &InventoryHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/stocks", h.stocksHandler)
	mux.HandleFunc("/stocks/reserve", h.mutation((*application.InventoryService).ReserveStock))
	mux.HandleFunc("/stocks/release", h.mutation((*application.InventoryService).ReleaseStock))
	mux.HandleFunc("/stocks/adjust", h.adjustHandler)
	mux.HandleFunc("/stocks/transfer-out", h.transferHandler(true))
	mux.HandleFunc("/stocks/transfer-in", h.transferHandler(false))
	mux.HandleFunc("/stocks/hold", h.holdHandler((*application.InventoryService).Hold))
	mux.HandleFunc("/stocks/release-hold", h.holdHandler((*application.InventoryService).ReleaseHold))
	mux.HandleFunc("/stocks/discard", h.holdHandler((*application.InventoryService).Discard))
	mux.HandleFunc("/stocks/check", h.checkStockHandler)
	mux.HandleFunc("/stocks/low", h.lowStockHandler)
	mux.HandleFunc("/stocks/movements", h.movementsHandler)
}

type stockRequest struct {
	Actor            string `json:"actor"`
	WarehouseID      string `json:"warehouseId"`
	ProductCode      string `json:"productCode"`
	Quantity         int    `json:"quantity"`
	SafetyStock      int    `json:"safetyStock,omitempty"`
	Delta            int    `json:"delta,omitempty"`
	ReferenceOrderID string `json:"referenceOrderId,omitempty"`
	TransferID       string `json:"transferId,omitempty"`
	Remarks          string `json:"remarks,omitempty"`
}

// stocksHandler POST 创建或入库补货，GET 点查。
func (h *InventoryHandler) stocksHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	switch r.Method {
	case http.MethodPost:
		req, ok := decode(w, r)
		if !ok {
			return
		}
		inv, err := h.service.CreateOrIncrease(ctx, req.Actor, req.WarehouseID, req.ProductCode, req.Quantity, req.SafetyStock)
		respond(ctx, w, inv, err)

	case http.MethodGet:
		inv, err := h.service.GetInventory(ctx, r.URL.Query().Get("warehouseId"), r.URL.Query().Get("productCode"))
		respond(ctx, w, inv, err)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// mutation 构造 reserve/release 这类带订单引用的变更端点。
func (h *InventoryHandler) mutation(op func(s *application.InventoryService, ctx context.Context, actor, warehouseID, productCode string, qty int, referenceOrderID, remarks string) (*domain.Inventory, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := extract(r)
		req, ok := decode(w, r)
		if !ok {
			return
		}
		inv, err := op(h.service, ctx, req.Actor, req.WarehouseID, req.ProductCode, req.Quantity, req.ReferenceOrderID, req.Remarks)
		respond(ctx, w, inv, err)
	}
}

func (h *InventoryHandler) adjustHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	req, ok := decode(w, r)
	if !ok {
		return
	}
	inv, err := h.service.AdjustStock(ctx, req.Actor, req.WarehouseID, req.ProductCode, req.Delta, req.Remarks)
	respond(ctx, w, inv, err)
}

func (h *InventoryHandler) transferHandler(out bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := extract(r)
		req, ok := decode(w, r)
		if !ok {
			return
		}
		var inv *domain.Inventory
		var err error
		if out {
			inv, err = h.service.TransferOut(ctx, req.Actor, req.WarehouseID, req.ProductCode, req.Quantity, req.TransferID)
		} else {
			inv, err = h.service.TransferIn(ctx, req.Actor, req.WarehouseID, req.ProductCode, req.Quantity, req.TransferID)
		}
		respond(ctx, w, inv, err)
	}
}

func (h *InventoryHandler) holdHandler(op func(s *application.InventoryService, ctx context.Context, actor, warehouseID, productCode string, qty int, remarks string) (*domain.Inventory, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := extract(r)
		req, ok := decode(w, r)
		if !ok {
			return
		}
		inv, err := op(h.service, ctx, req.Actor, req.WarehouseID, req.ProductCode, req.Quantity, req.Remarks)
		respond(ctx, w, inv, err)
	}
}

func (h *InventoryHandler) checkStockHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	q := r.URL.Query()
	qty, _ := strconv.Atoi(q.Get("quantity"))
	if qty == 0 {
		qty = 1
	}
	available, err := h.service.CheckStock(ctx, q.Get("warehouseId"), q.Get("productCode"), qty)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, map[string]bool{"available": available})
}

func (h *InventoryHandler) lowStockHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	list, err := h.service.ListLowStock(ctx)
	respond(ctx, w, list, err)
}

func (h *InventoryHandler) movementsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	list, err := h.service.ListMovements(ctx, r.URL.Query().Get("referenceOrderId"))
	respond(ctx, w, list, err)
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func decode(w http.ResponseWriter, r *http.Request) (*stockRequest, bool) {
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if req.WarehouseID == "" || req.ProductCode == "" {
		http.Error(w, "warehouseId and productCode are required", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func respond(ctx context.Context, w http.ResponseWriter, body any, err error) {
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// writeError 把领域错误映射成 HTTP 状态码：键不存在 404，数量不足 409，其余 500。
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var notFound *domain.NotFoundError
	var insufficientStock *domain.InsufficientStockError
	var insufficientAlloc *domain.InsufficientAllocationError
	var insufficientHold *domain.InsufficientHoldError

	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &insufficientStock), errors.As(err, &insufficientAlloc), errors.As(err, &insufficientHold):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("inventory request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
