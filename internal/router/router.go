package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/presencelabs/meetledger/internal/config"
	"github.com/presencelabs/meetledger/internal/middleware"
	"github.com/presencelabs/meetledger/internal/modules/handler"
	"github.com/presencelabs/meetledger/internal/modules/serializer"
)

type RouterDeps struct {
	Config             *config.Config
	Log                *zap.Logger
	ObservationHandler *handler.ObservationHandler
	MeetingHandler     *handler.MeetingHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	serializer.SetLogger(d.Log)

	r := gin.New()
	r.Use(gin.Recovery())

	if d.Config.Telemetry.Enabled && d.Config.Telemetry.OtlpEndpoint != "" {
		r.Use(middleware.OtelTracing(d.Config.App.Name))
		r.Use(middleware.TraceID())
	}

	r.Use(middleware.ZapLogger(d.Log))

	// health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, serializer.Response{Msg: "ok"}) })

	v1 := r.Group("/api/v1")
	{
		v1.Use(middleware.APIAuth(d.Config))

		observations := v1.Group("/observations")
		{
			observations.POST("", d.ObservationHandler.Observe)
			observations.POST("/minute", d.ObservationHandler.MinuteTick)
		}

		v1.POST("/sessions/end", d.ObservationHandler.EndSession)

		meetings := v1.Group("/meetings")
		{
			meetings.GET("", d.MeetingHandler.ListMeetings)
			meetings.GET("/:meeting_id", d.MeetingHandler.GetMeeting)
			meetings.DELETE("", d.MeetingHandler.ClearAll)
		}

		v1.GET("/state", d.MeetingHandler.GetCurrentState)
	}
	return r
}
