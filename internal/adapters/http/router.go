package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/scribe/internal/adapters/signal"
	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/config"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "ScribeSessions"
	clientTokenKey = "ct"
	tokenMaxAge    = 3600 * 24 * 7
)

// RoomService is what the REST handlers need from the room registry.
type RoomService interface {
	Create(ctx context.Context, req app.CreateRequest) (*app.Room, error)
	Validate(ctx context.Context, code domain.RoomCode) (app.Validation, error)
	Lookup(ctx context.Context, code domain.RoomCode) (*app.Room, error)
	Count() int
}

// ClientTokenMiddleware gives every browser a stable token kept in the
// session cookie. It is the reconnection identity of a member.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if !domain.ClientToken(token).Valid() {
			token = string(domain.NewClientToken())
			session.Options(sessions.Options{Path: "/", MaxAge: tokenMaxAge, HttpOnly: true, SameSite: http.SameSiteLaxMode})
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, rooms RoomService, ws *signal.SignalWSController, conns func() int) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok", "rooms": rooms.Count()}
		if conns != nil {
			body["connections"] = conns()
		}
		c.JSON(http.StatusOK, body)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &roomHandlers{rooms: rooms}
	api := r.Group("/api")
	api.POST("/rooms", h.create)
	api.POST("/rooms/validate", h.validate)
	api.GET("/rooms/:code", h.info)
	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws endpoint hit")
		ws.HandleSignal(ctx, c)
	})

	return r
}

type roomHandlers struct {
	rooms RoomService
}

type createRoomRequest struct {
	Username string `json:"username"`
	RoomName string `json:"room_name"`
}

// create makes an empty room; its first joiner over the websocket is promoted to host.
func (h *roomHandlers) create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ErrBadPayload)
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), app.CreateRequest{Name: req.RoomName, Username: req.Username})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "room_code": room.Code()})
}

type validateRequest struct {
	RoomCode string `json:"room_code"`
}

func (h *roomHandlers) validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ErrBadPayload)
		return
	}
	res, err := h.rooms.Validate(c.Request.Context(), domain.NormalizeRoomCode(req.RoomCode))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *roomHandlers) info(c *gin.Context) {
	room, err := h.rooms.Lookup(c.Request.Context(), domain.NormalizeRoomCode(c.Param("code")))
	if err != nil {
		fail(c, err)
		return
	}
	meta := room.Info()
	c.JSON(http.StatusOK, gin.H{
		"room_code":       meta.Code.Display(meta.CodeVisible, false),
		"room_name":       meta.Name,
		"is_code_visible": meta.CodeVisible,
		"members":         room.Occupancy(),
		"last_active_at":  meta.LastActiveAt,
	})
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomFull):
		status = http.StatusConflict
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"success": false, "message": domain.UserMessage(err)})
}
