package handler

import (
	"net/http"

	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/service"

	"github.com/gin-gonic/gin"
)

// CashRegistersHandler serves a manager's own cash register.
type CashRegistersHandler struct{ svc service.CashRegisterService }

func NewCashRegistersHandler(svc service.CashRegisterService) *CashRegistersHandler {
	return &CashRegistersHandler{svc: svc}
}

// Open godoc
// @Summary Opens today's cash register
// @Description Without opening_balance the previous closing balance is carried forward.
// @Tags cash-registers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenCashRegisterRequest false "Opening balance override"
// @Success 201 {object} dto.CashRegisterResponse
// @Failure 400 {object} apierror.APIError
// @Failure 403 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash-registers/open [post]
func (h *CashRegistersHandler) Open(c *gin.Context) {
	var req dto.OpenCashRegisterRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	resp, err := h.svc.Open(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Today godoc
// @Summary Returns the caller's register for today, or null
// @Tags cash-registers
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.CashRegisterResponse
// @Router /v1/cash-registers/today [get]
func (h *CashRegistersHandler) Today(c *gin.Context) {
	resp, err := h.svc.GetToday(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// History godoc
// @Summary Lists the caller's registers, newest first
// @Tags cash-registers
// @Produce json
// @Security BearerAuth
// @Param start_date query string false "YYYY-MM-DD"
// @Param end_date query string false "YYYY-MM-DD"
// @Success 200 {array} dto.CashRegisterResponse
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cash-registers/history [get]
func (h *CashRegistersHandler) History(c *gin.Context) {
	from, to, ok := bindDateRange(c)
	if !ok {
		return
	}
	caller := callerFrom(c)
	resp, err := h.svc.GetHistory(c.Request.Context(), caller, caller.UserID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary Returns one register with its full ledger
// @Tags cash-registers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Success 200 {object} dto.CashRegisterResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash-registers/{id} [get]
func (h *CashRegistersHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.GetRegister(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Close godoc
// @Summary Closes an open register
// @Tags cash-registers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Param body body dto.CloseCashRegisterRequest false "Counted and carried balances"
// @Success 200 {object} dto.CashRegisterResponse
// @Failure 400 {object} apierror.APIError
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash-registers/{id}/close [post]
func (h *CashRegistersHandler) Close(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CloseCashRegisterRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	resp, err := h.svc.Close(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reconcile godoc
// @Summary Records a recount of a closed register
// @Tags cash-registers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Param body body dto.ReconcileCashRegisterRequest true "Recount"
// @Success 200 {object} dto.CashRegisterResponse
// @Failure 400 {object} apierror.APIError
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash-registers/{id}/reconcile [post]
func (h *CashRegistersHandler) Reconcile(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ReconcileCashRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Reconcile(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AddTransaction godoc
// @Summary Appends a cash movement to an open register
// @Tags cash-registers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Param body body dto.AddCashTransactionRequest true "Movement"
// @Success 201 {object} dto.CashTransactionResponse
// @Failure 400 {object} apierror.APIError
// @Failure 404 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cash-registers/{id}/transactions [post]
func (h *CashRegistersHandler) AddTransaction(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.AddCashTransactionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.AddTransaction(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
