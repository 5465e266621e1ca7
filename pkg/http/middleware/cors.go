package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORS lets the browser dashboard call the API from the given origins.
// An empty list or "*" allows any origin.
func CORS(origins []string, methods ...string) echo.MiddlewareFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPut, http.MethodOptions}
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join([]string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept}, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Add(echo.HeaderVary, echo.HeaderOrigin)

			origin := c.Request().Header.Get(echo.HeaderOrigin)
			switch {
			case origin == "":
				if allowAll {
					h.Set(echo.HeaderAccessControlAllowOrigin, "*")
				}
			case allowAll:
				h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			default:
				if _, ok := allowed[origin]; !ok {
					return next(c)
				}
				h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			}

			if c.Request().Method != http.MethodOptions {
				return next(c)
			}
			h.Set(echo.HeaderAccessControlAllowMethods, allowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
			return c.NoContent(http.StatusNoContent)
		}
	}
}
