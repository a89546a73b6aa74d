package handlers

import (
	"net/http"

	"revealroom/services"

	"github.com/gin-gonic/gin"
)

type VoteHandler struct {
	voteService *services.VoteService
}

func NewVoteHandler(voteService *services.VoteService) *VoteHandler {
	return &VoteHandler{voteService: voteService}
}

func (h *VoteHandler) CastVote(c *gin.Context) {
	var req services.CreateVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	vote, err := h.voteService.CastVote(c.Request.Context(), &req)
	if err != nil {
		HandleError(c, err, "Failed to create vote")
		return
	}

	Success(c, http.StatusCreated, "Vote created successfully", vote)
}

func (h *VoteHandler) ListVotes(c *gin.Context) {
	var filter services.VoteFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BindError(c, err)
		return
	}

	votes, err := h.voteService.ListVotes(c.Request.Context(), filter)
	if err != nil {
		HandleError(c, err, "Failed to fetch votes")
		return
	}

	Success(c, http.StatusOK, "Votes fetched successfully", votes)
}

func (h *VoteHandler) GetVote(c *gin.Context) {
	vote, err := h.voteService.GetVote(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to fetch vote")
		return
	}

	Success(c, http.StatusOK, "Vote fetched successfully", vote)
}

func (h *VoteHandler) UpdateVote(c *gin.Context) {
	var req services.UpdateVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	// Moving a vote needs host access to the target room as well.
	if req.RoomID != nil {
		if claims, ok := HostClaims(c); ok && claims.RoomID != *req.RoomID {
			Fail(c, http.StatusForbidden, "Host token does not grant access to the target room", nil)
			return
		}
	}

	vote, err := h.voteService.UpdateVote(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		HandleError(c, err, "Failed to update vote")
		return
	}

	Success(c, http.StatusOK, "Vote updated successfully", vote)
}

func (h *VoteHandler) DeleteVote(c *gin.Context) {
	if err := h.voteService.DeleteVote(c.Request.Context(), c.Param("id")); err != nil {
		HandleError(c, err, "Failed to delete vote")
		return
	}

	Success(c, http.StatusOK, "Vote deleted successfully", nil)
}
