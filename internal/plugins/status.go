package plugins

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const StatusName = "status"

// CallsResponse lists the live calls.
type CallsResponse struct {
	Calls []string `json:"calls"`
	Count int      `json:"count"`
}

func newStatus(env *Env) (*Plugin, error) {
	if env.Registry == nil {
		return nil, errors.New("no call registry configured")
	}
	return &Plugin{
		Name: StatusName,
		BeforeStartup: func(e *echo.Echo) error {
			e.GET("/calls", func(c echo.Context) error {
				sids := env.Registry.CallSids()
				return c.JSON(http.StatusOK, CallsResponse{Calls: sids, Count: len(sids)})
			})
			return nil
		},
	}, nil
}
