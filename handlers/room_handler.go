package handlers

import (
	"net/http"

	"revealroom/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type RoomHandler struct {
	roomService     *services.RoomService
	rouletteService *services.RouletteService
}

func NewRoomHandler(roomService *services.RoomService, rouletteService *services.RouletteService) *RoomHandler {
	return &RoomHandler{
		roomService:     roomService,
		rouletteService: rouletteService,
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req services.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), &req)
	if err != nil {
		HandleError(c, err, "Failed to create room")
		return
	}

	Success(c, http.StatusCreated, "Room created successfully", room)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	var page services.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		BindError(c, err)
		return
	}
	var filter services.RoomFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BindError(c, err)
		return
	}

	rooms, err := h.roomService.ListRooms(c.Request.Context(), filter, page)
	if err != nil {
		HandleError(c, err, "Failed to fetch rooms")
		return
	}

	Success(c, http.StatusOK, "Rooms fetched successfully", rooms)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to fetch room")
		return
	}

	Success(c, http.StatusOK, "Room fetched successfully", room)
}

func (h *RoomHandler) GetPublicRoom(c *gin.Context) {
	room, err := h.roomService.GetPublicRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to fetch room")
		return
	}

	Success(c, http.StatusOK, "Room fetched successfully", room)
}

func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	var req services.UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	room, err := h.roomService.UpdateRoom(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		HandleError(c, err, "Failed to update room")
		return
	}

	Success(c, http.StatusOK, "Room updated successfully", room)
}

func (h *RoomHandler) CloseRoom(c *gin.Context) {
	var req services.CloseRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	status, err := h.roomService.SetClosed(c.Request.Context(), c.Param("id"), *req.IsClose)
	if err != nil {
		HandleError(c, err, "Failed to update room status")
		return
	}

	Success(c, http.StatusOK, "Room status updated successfully", status)
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID := c.Param("id")
	if err := h.roomService.DeleteRoom(c.Request.Context(), roomID); err != nil {
		HandleError(c, err, "Failed to delete room")
		return
	}

	if h.rouletteService != nil {
		if err := h.rouletteService.Discard(c.Request.Context(), roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("failed to discard roulette session")
		}
	}

	Success(c, http.StatusOK, "Room deleted successfully", nil)
}

func (h *RoomHandler) VerifyPin(c *gin.Context) {
	var req services.VerifyPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	result, err := h.roomService.VerifyPin(c.Request.Context(), c.Param("id"), req.Pin)
	if err != nil {
		HandleError(c, err, "Failed to verify pin")
		return
	}

	Success(c, http.StatusOK, "Pin verified successfully", result)
}

func (h *RoomHandler) Reveal(c *gin.Context) {
	reveal, err := h.roomService.RevealCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to reveal category")
		return
	}

	Success(c, http.StatusOK, "Category revealed", reveal)
}
