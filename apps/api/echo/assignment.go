package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core/assignment"
)

type assignmentApi struct {
	svc      *assignment.Service
	validate *validator.Validate
}

func registerAssignmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *assignmentApi) {
	// public: guests resolve their access code here
	g.GET("/assignments/code/:code", api.lookup)

	g.GET("/assignments", api.query, jwt, teacherMiddleware())
	g.POST("/classes", api.createClass, jwt, teacherMiddleware())
	g.POST("/classes/:id/assignments", api.createAssignment, jwt, teacherMiddleware())
}

// Handlers

func (api *assignmentApi) lookup(ctx echo.Context) error {
	pub, err := api.svc.LookupByCode(ctx.Request().Context(), ctx.Param("code"))
	if err != nil {
		if errors.Cause(err) == assignment.ErrNotFound {
			return errAssignmentNotFound
		}
		return errors.Wrap(err, "looking up assignment by code")
	}
	return ctx.JSON(http.StatusOK, pub)
}

func (api *assignmentApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	ordering := bindOrdering(ctx, "title", "createdAt", "dueDate", "code")

	assignments, err := api.svc.QueryByTeacher(ctx.Request().Context(), claims.Subject, ordering...)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	return ctx.JSON(http.StatusOK, assignments)
}

func (api *assignmentApi) createClass(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data assignment.NewClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	cls, err := api.svc.CreateClass(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *assignmentApi) createAssignment(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data assignment.NewAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.CreateAssignment(ctx.Request().Context(), claims.Subject, ctx.Param("id"), data)
	switch errors.Cause(err) {
	case nil:
		return ctx.JSON(http.StatusCreated, a)
	case assignment.ErrClassNotFound:
		return errHttpNotFound
	case assignment.ErrNotOwner:
		return errHttpForbidden
	default:
		return errors.Wrap(err, "creating assignment")
	}
}
