package http

import (
	"net/http"

	"github.com/dkeye/wtn/internal/app/orch"
	"github.com/dkeye/wtn/internal/domain"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	orch *orch.Orchestrator
}

type StreamsResponse struct {
	Room    domain.RoomName           `json:"room"`
	Streams []domain.StreamDescriptor `json:"streams"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.orch.Registry.Count(),
	})
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Rooms.List()})
}

func (h *handlers) roomStreams(c *gin.Context) {
	room, err := domain.ParseRoomName(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, StreamsResponse{
		Room:    room,
		Streams: h.orch.Snapshot(room),
	})
}
