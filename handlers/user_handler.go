package handlers

import (
	"net/http"

	"revealroom/services"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req services.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	user, err := h.userService.CreateUser(c.Request.Context(), &req)
	if err != nil {
		HandleError(c, err, "Failed to create user")
		return
	}

	Success(c, http.StatusCreated, "User created successfully", user)
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	var page services.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		BindError(c, err)
		return
	}

	users, err := h.userService.ListUsers(c.Request.Context(), page)
	if err != nil {
		HandleError(c, err, "Failed to fetch users")
		return
	}

	Success(c, http.StatusOK, "Users fetched successfully", users)
}

func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.userService.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "Failed to fetch user")
		return
	}

	Success(c, http.StatusOK, "User fetched successfully", user)
}

func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req services.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	user, err := h.userService.UpdateUser(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		HandleError(c, err, "Failed to update user")
		return
	}

	Success(c, http.StatusOK, "User updated successfully", user)
}
