package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core/guest"
)

type guestApi struct {
	conv guest.AccountConverter
}

func registerGuestAPI(g *echo.Group, api *guestApi) {
	g.POST("/guest/convert", api.convert)
}

func (api *guestApi) convert(ctx echo.Context) error {
	var data guest.ConversionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConversionRequest")
	}

	res, err := api.conv.ConvertGuest(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "converting guest")
	}
	return ctx.JSON(http.StatusCreated, res)
}
