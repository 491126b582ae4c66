package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core/submission"
)

type submissionApi struct {
	svc *submission.Service
}

func registerSubmissionAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *submissionApi) {
	g.GET("/submissions", api.query, jwt)
}

// query lists the submissions of the authenticated student.
func (api *submissionApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	ordering := bindOrdering(ctx, "createdAt", "updatedAt", "status")

	subs, err := api.svc.QueryByStudent(ctx.Request().Context(), claims.Subject, ordering...)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}
