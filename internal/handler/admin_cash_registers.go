package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/service"

	"github.com/gin-gonic/gin"
)

// AutoCloseFunc runs one sweep; ran is false when another instance holds
// the sweep lock.
type AutoCloseFunc func(ctx context.Context) (result dto.AutoCloseResult, ran bool)

// AdminCashRegistersHandler serves back-office access across managers.
type AdminCashRegistersHandler struct {
	svc       service.CashRegisterService
	autoClose AutoCloseFunc
}

func NewAdminCashRegistersHandler(svc service.CashRegisterService, autoClose AutoCloseFunc) *AdminCashRegistersHandler {
	if autoClose == nil {
		autoClose = func(ctx context.Context) (dto.AutoCloseResult, bool) {
			return svc.RunAutoCloseSweep(ctx), true
		}
	}
	return &AdminCashRegistersHandler{svc: svc, autoClose: autoClose}
}

// History godoc
// @Summary Lists a manager's registers, newest first
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param managerId path string true "Manager ID"
// @Param start_date query string false "YYYY-MM-DD"
// @Param end_date query string false "YYYY-MM-DD"
// @Success 200 {array} dto.CashRegisterResponse
// @Router /v1/admin/managers/{managerId}/cash-registers [get]
func (h *AdminCashRegistersHandler) History(c *gin.Context) {
	managerID, ok := uuidParam(c, "managerId")
	if !ok {
		return
	}
	from, to, ok := bindDateRange(c)
	if !ok {
		return
	}
	resp, err := h.svc.GetHistory(c.Request.Context(), callerFrom(c), managerID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reconciliation godoc
// @Summary Reconciliation report over a manager's closed registers
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param managerId path string true "Manager ID"
// @Param start_date query string false "YYYY-MM-DD"
// @Param end_date query string false "YYYY-MM-DD"
// @Success 200 {object} dto.ReconciliationReportResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/admin/managers/{managerId}/reconciliation [get]
func (h *AdminCashRegistersHandler) Reconciliation(c *gin.Context) {
	managerID, ok := uuidParam(c, "managerId")
	if !ok {
		return
	}
	from, to, ok := bindDateRange(c)
	if !ok {
		return
	}
	resp, err := h.svc.GetReconciliationReport(c.Request.Context(), callerFrom(c), managerID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Provision godoc
// @Summary Seeds a manager's first closed register
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param managerId path string true "Manager ID"
// @Param body body dto.ProvisionCashRegisterRequest true "Initial float"
// @Success 201 {object} dto.CashRegisterResponse
// @Failure 400 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/admin/managers/{managerId}/cash-registers [post]
func (h *AdminCashRegistersHandler) Provision(c *gin.Context) {
	managerID, ok := uuidParam(c, "managerId")
	if !ok {
		return
	}
	var req dto.ProvisionCashRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Provision(c.Request.Context(), callerFrom(c), managerID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// UpdateOpeningBalance godoc
// @Summary Corrects the opening balance of an open register
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param managerId path string true "Manager ID"
// @Param id path string true "Register ID"
// @Param body body dto.UpdateOpeningBalanceRequest true "New opening balance"
// @Success 200 {object} dto.CashRegisterResponse
// @Failure 400 {object} apierror.APIError
// @Failure 404 {object} apierror.APIError
// @Router /v1/admin/managers/{managerId}/cash-registers/{id}/opening-balance [patch]
func (h *AdminCashRegistersHandler) UpdateOpeningBalance(c *gin.Context) {
	managerID, ok := uuidParam(c, "managerId")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateOpeningBalanceRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.UpdateOpeningBalance(c.Request.Context(), callerFrom(c), managerID, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AutoClose godoc
// @Summary Runs the end-of-day sweep now
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.AutoCloseResult
// @Failure 409 {object} apierror.APIError
// @Router /v1/admin/cash-registers/auto-close [post]
func (h *AdminCashRegistersHandler) AutoClose(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()
	result, ran := h.autoClose(ctx)
	if !ran {
		c.JSON(http.StatusConflict, apierror.New("auto-close sweep already running"))
		return
	}
	c.JSON(http.StatusOK, result)
}
