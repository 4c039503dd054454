package roomhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchatgo/internal/services/membership"
	"roomchatgo/internal/ws"
)

// PresenceSnapshotter is the collaborator query surface of the session layer.
type PresenceSnapshotter interface {
	Snapshot(ctx context.Context, roomID string) []ws.PresenceRecord
}

type Handler struct {
	svc      membership.IMembershipService
	presence PresenceSnapshotter
}

func New(svc membership.IMembershipService, presence PresenceSnapshotter) *Handler {
	return &Handler{svc: svc, presence: presence}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/api/rooms", h.create)
	r.GET("/api/rooms", h.list)
	r.GET("/api/rooms/:id", h.info)
	r.GET("/api/rooms/:id/members", h.members)
	r.GET("/api/rooms/:id/presence", h.presenceSnapshot)
}

// @Summary		Create a room
// @Description	Creates a room with a generated ID.
// @Tags			Rooms
// @Param			body	body		CreateRoomBody	true	"Room payload"
// @Success		201		{object}	membership.RoomDTO
// @Failure		400		{object}	ErrorResponse
// @Router			/api/rooms [post]
func (h *Handler) create(ginCtx *gin.Context) {
	var body CreateRoomBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}

	dto, err := h.svc.CreateRoom(ginCtx.Request.Context(), body.Name, body.Description, body.CreatedBy)
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusCreated, dto)
}

// @Summary		Get room details
// @Description	Returns a single room's metadata.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	membership.RoomDTO
// @Failure		404	{object}	ErrorResponse
// @Router			/api/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	dto, err := h.svc.GetRoom(c, c.Param("id"))
	if errors.Is(err, membership.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto)
}

// @Summary		List rooms
// @Description	Retrieves a paginated list of active rooms.
// @Tags			Rooms
// @Param			limit	query		int	false	"Max results (0-100)"	minimum(0)	maximum(100)	default(10)
// @Param			offset	query		int	false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{array}		membership.RoomDTO
// @Failure		400		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/api/rooms [get]
func (h *Handler) list(c *gin.Context) {
	var q ListRoomsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.svc.ListRooms(c, q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		List room members
// @Description	Returns the durable membership roster of a room.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{array}		membership.MemberDTO
// @Failure		500	{object}	ErrorResponse
// @Router			/api/rooms/{id}/members [get]
func (h *Handler) members(c *gin.Context) {
	out, err := h.svc.ListMembers(c, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Presence snapshot
// @Description	Returns the merged presence view: durable members plus who holds a live connection right now.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{array}		ws.PresenceRecord
// @Router			/api/rooms/{id}/presence [get]
func (h *Handler) presenceSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.presence.Snapshot(c.Request.Context(), c.Param("id")))
}
