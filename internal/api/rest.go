package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tagsmith/tagsmith/internal/api/fetches"
	"github.com/tagsmith/tagsmith/internal/api/files"
	"github.com/tagsmith/tagsmith/internal/config"
	"github.com/tagsmith/tagsmith/internal/fetch"
	"github.com/tagsmith/tagsmith/internal/logger"
	"github.com/tagsmith/tagsmith/internal/tagging"
	"github.com/tagsmith/tagsmith/internal/version"
	"github.com/tagsmith/tagsmith/internal/workspace"
)

type (
	controller interface {
		SetRoutes(*echo.Group)
	}

	// RestGateway is a thin wrapper around the Echo router. Its sole
	// responsibility is registering the routes the service exposes and
	// running the HTTP listener.
	RestGateway struct {
		config          *config.Config
		log             logger.Logger
		ec              *echo.Echo
		filesController controller
		fetchController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// routes defined by the controllers.
func NewRestGateway(
	cfg *config.Config,
	logs *logger.Manager,
	ws *workspace.Workspace,
	tagger *tagging.Service,
	fetcher *fetch.Fetcher,
) *RestGateway {
	log := logs.Get("API")

	ec := echo.New()
	ec.HidePort = true
	ec.HideBanner = true
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "registered route %s %s", route.Method, route.Path)
	}

	validate := validator.New()
	gateway := &RestGateway{
		config:          cfg,
		log:             log,
		ec:              ec,
		filesController: files.New(validate, ws, tagger, logs.Get("FilesController")),
		fetchController: fetches.New(validate, ws, tagger, fetcher, logs.Get("FetchesController")),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/tagsmith/v1/health/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	fileRoutes := ec.Group("/api/tagsmith/v1/files")
	gateway.filesController.SetRoutes(fileRoutes)

	fetchRoutes := ec.Group("/api/tagsmith/v1/fetches")
	gateway.fetchController.SetRoutes(fetchRoutes)

	return gateway
}

// Run serves HTTP until the parent context is cancelled or the
// listener fails.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr()); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}
	return nil
}
