package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/writeonenglish/woe/core"
)

const orderingParam = "ordering"

// bindOrdering parses ?ordering=field,-field (a leading "-" means descending).
// Fields not in allowed are dropped.
func bindOrdering(ctx echo.Context, allowed ...string) []core.DBOrdering {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return nil
	}

	var orderings []core.DBOrdering
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		for _, a := range allowed {
			if a == field {
				orderings = append(orderings, core.DBOrdering{Field: field, Ascending: !descending})
				break
			}
		}
	}
	return orderings
}
