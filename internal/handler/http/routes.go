package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the relay's HTTP surface onto the router.
func RegisterRoutes(router *gin.Engine, roomHandler *RoomHandler, directoryHandler *DirectoryHandler) {
	router.GET("/health", directoryHandler.Health)
	router.GET("/workers", directoryHandler.Workers)
	router.GET("/rooms", directoryHandler.Rooms)
	router.POST("/gossip", directoryHandler.Gossip)

	router.POST("/room", roomHandler.Create)
	room := router.Group("/room/:hash")
	{
		room.POST("/join", roomHandler.Join)
		room.POST("/send", roomHandler.Send)
		room.GET("/poll", roomHandler.Poll)
		room.POST("/leave", roomHandler.Leave)
		room.GET("/info", roomHandler.Info)
	}

	router.NoRoute(func(c *gin.Context) {
		ErrorResponse(c, http.StatusNotFound, "not_found")
	})
}
