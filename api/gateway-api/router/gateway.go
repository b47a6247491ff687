package gateway_routers

import (
	"github.com/gin-gonic/gin"
	gatewayCallApi "github.com/rapidaai/voicegateway/api/gateway-api/api/call"
	gatewayMediaApi "github.com/rapidaai/voicegateway/api/gateway-api/api/media"
	internal_callcontext "github.com/rapidaai/voicegateway/api/gateway-api/internal/callcontext"
	internal_gateway "github.com/rapidaai/voicegateway/api/gateway-api/internal/gateway"
	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

func CallApiRoute(
	cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	store internal_callcontext.Store,
	provider internal_telephony.Provider,
	hub *internal_gateway.Hub) {
	callApi := gatewayCallApi.NewCallApi(cfg, logger, store, provider, hub)
	apiv1 := engine.Group("call")
	{
		apiv1.POST("/start", callApi.StartCall)
		apiv1.POST("/hangup", callApi.HangupCall)
		apiv1.POST("/events", callApi.Events)
	}
	engine.GET("/status", callApi.Status)
}

func MediaApiRoute(
	cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	store internal_callcontext.Store,
	hub *internal_gateway.Hub) {
	mediaApi := gatewayMediaApi.NewMediaApi(cfg, logger, store, hub)
	// The provider dials this back with the token minted by /call/start.
	engine.GET("/media/:token", mediaApi.Connect)
}
