package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shiftsight/core/internal/middleware"
	"github.com/shiftsight/core/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	group := rg.Group("/auth")
	group.POST("/login", h.login)

	group.POST("/users", authMW, h.createUser)

	tokens := group.Group("/tokens", authMW)
	tokens.GET("", h.listTokens)
	tokens.POST("", h.createToken)
	tokens.DELETE("/:id", h.deleteToken)
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

func (h *Handler) createUser(c *gin.Context) {
	if role, _ := c.Get(middleware.ContextKeyRole); role != "admin" {
		response.NotFound(c)
		return
	}

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "username and a password of at least 8 characters are required")
		return
	}
	if req.Role == "" {
		req.Role = "finance"
	}

	user, err := h.service.CreateUser(c.Request.Context(), req.Username, req.Name, req.Password, req.Role)
	if errors.Is(err, ErrUsernameTaken) {
		response.Conflict(c, "username already taken")
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, user)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "username and password are required")
		return
	}

	token, user, err := h.service.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if errors.Is(err, ErrInvalidCredentials) {
		response.Unauthorized(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}

	response.OK(c, gin.H{
		"token": token,
		"user":  user,
	})
}

type createTokenRequest struct {
	Name      string     `json:"name" binding:"required"`
	ExpiredAt *time.Time `json:"expired_at"`
}

func (h *Handler) createToken(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "token name is required")
		return
	}

	token, err := h.service.CreateAPIToken(c.Request.Context(), middleware.CurrentUserID(c), req.Name, req.ExpiredAt)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, token)
}

func (h *Handler) listTokens(c *gin.Context) {
	tokens, err := h.service.ListAPITokens(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, tokens)
}

func (h *Handler) deleteToken(c *gin.Context) {
	deleted, err := h.service.DeleteAPIToken(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if !deleted {
		response.NotFound(c)
		return
	}
	response.NoContent(c)
}
