package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hybridgroup/mjpeg"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/peoplecounter/internal/analytics"
	"github.com/your-org/peoplecounter/internal/api/handlers"
	"github.com/your-org/peoplecounter/internal/api/ws"
	"github.com/your-org/peoplecounter/internal/auth"
	"github.com/your-org/peoplecounter/internal/bus"
	"github.com/your-org/peoplecounter/internal/config"
	"github.com/your-org/peoplecounter/internal/export"
	"github.com/your-org/peoplecounter/internal/health"
	"github.com/your-org/peoplecounter/internal/reid"
	"github.com/your-org/peoplecounter/internal/storage"
)

// Deps collects everything the control plane serves. Gallery, Similar,
// Snapshots and Stream are optional; the matching endpoints answer with a
// structured 501 when nil. Bridges holds the connected event bridges by name
// so /health can report their liveness.
type Deps struct {
	Cfg       *config.Config
	Store     storage.Store
	Auth      *auth.Manager
	Worker    handlers.WorkerControl
	Analytics *analytics.Service
	Exporter  *export.Exporter
	Gallery   *reid.Gallery
	Similar   handlers.SimilarSearcher
	Snapshots handlers.ObjectStore
	Bridges   map[string]handlers.Pinger
	Bus       *bus.Bus
	Health    *health.Checker
	Stream    *mjpeg.Stream
}

func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(cors.Default())

	authH := handlers.NewAuthHandler(deps.Auth)
	cameraH := handlers.NewCameraHandler(deps.Store, deps.Worker, deps.Cfg.Camera.ProxyBase)
	eventsH := handlers.NewEventsHandler(deps.Store, deps.Snapshots)
	statsH := handlers.NewStatsHandler(deps.Worker)
	systemH := handlers.NewSystemHandler(deps.Worker, deps.Store, deps.Health, deps.Bridges)
	analyticsH := handlers.NewAnalyticsHandler(deps.Analytics)
	reidH := handlers.NewReIDHandler(deps.Gallery, deps.Similar, deps.Cfg.ReID.MaxAgeDays)
	exportH := handlers.NewExportHandler(deps.Exporter, deps.Analytics.Location())
	videoH := handlers.NewVideoHandler(deps.Stream)
	wsH := ws.NewHandler(deps.Bus, deps.Analytics)

	// Unauthenticated surface.
	r.GET("/health", systemH.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/api/auth/login", authH.Login)

	// Browsers cannot set headers on WebSocket or <img> requests, so these
	// two also accept ?token=.
	r.GET("/ws", deps.Auth.Middleware(true), wsH.Handle)
	r.GET("/video_feed", deps.Auth.Middleware(true), videoH.Feed)

	api := r.Group("/api")
	api.Use(deps.Auth.Middleware(false))

	api.GET("/auth/me", authH.Me)

	api.GET("/camera/settings", cameraH.GetActive)
	api.GET("/camera/settings/all", cameraH.List)
	api.POST("/camera/settings", cameraH.Create)
	api.PUT("/camera/settings/:id", cameraH.Update)
	api.POST("/camera/switch", cameraH.Switch)

	api.GET("/system/status", systemH.Status)
	api.GET("/stats/current", statsH.Current)
	api.POST("/reset", systemH.Reset)

	api.GET("/events", eventsH.List)
	api.GET("/events/snapshot", eventsH.Snapshot)
	api.POST("/events/clear", eventsH.Clear)

	an := api.Group("/analytics")
	an.GET("/day", analyticsH.Period(analytics.PeriodDay))
	an.GET("/week", analyticsH.Period(analytics.PeriodWeek))
	an.GET("/month", analyticsH.Period(analytics.PeriodMonth))
	an.GET("/hourly", analyticsH.Hourly)
	an.GET("/daily", analyticsH.Daily)
	an.GET("/monthly", analyticsH.Monthly)
	an.GET("/weekday-stats", analyticsH.WeekdayStats)
	an.GET("/averages", analyticsH.Averages)
	an.GET("/growth-trend", analyticsH.GrowthTrend)
	an.GET("/peak-hour-avg", analyticsH.PeakHourAvg)
	an.GET("/predict-peak", analyticsH.PredictPeak)

	api.POST("/export", exportH.Export)

	rg := api.Group("/reid")
	rg.GET("/persons", reidH.List)
	rg.GET("/persons/:id", reidH.Get)
	rg.GET("/persons/:id/similar", reidH.Similar)
	rg.POST("/clear", reidH.Clear)
	rg.POST("/cleanup", reidH.Cleanup)

	return r
}
