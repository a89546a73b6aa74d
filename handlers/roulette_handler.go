package handlers

import (
	"net/http"

	"revealroom/services"

	"github.com/gin-gonic/gin"
)

type RouletteHandler struct {
	rouletteService *services.RouletteService
}

func NewRouletteHandler(rouletteService *services.RouletteService) *RouletteHandler {
	return &RouletteHandler{rouletteService: rouletteService}
}

func (h *RouletteHandler) Start(c *gin.Context) {
	session, err := h.rouletteService.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to start roulette")
		return
	}

	Success(c, http.StatusCreated, "Roulette started", session)
}

func (h *RouletteHandler) State(c *gin.Context) {
	session, err := h.rouletteService.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to fetch roulette")
		return
	}

	Success(c, http.StatusOK, "Roulette fetched successfully", session)
}

func (h *RouletteHandler) Spin(c *gin.Context) {
	result, err := h.rouletteService.Spin(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to spin roulette")
		return
	}

	Success(c, http.StatusOK, "Round played", result)
}

func (h *RouletteHandler) Reset(c *gin.Context) {
	session, err := h.rouletteService.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to reset roulette")
		return
	}

	Success(c, http.StatusOK, "Roulette reset", session)
}
