package http

import (
	"errors"
	"net/http"

	"github.com/Utkarshchaudhary009/Docverse/internal/content"
	"github.com/Utkarshchaudhary009/Docverse/internal/http/middleware"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type queryReq struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResp struct {
	Context   string          `json:"context"`
	Matches   []content.Match `json:"matches"`
	Remaining *int64          `json:"remaining,omitempty"`
}

func queryHandler(r content.Retriever) echo.HandlerFunc {
	return func(c echo.Context) error {
		v, ok := middleware.VerdictFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req queryReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		q, err := content.Query{
			IdentityRef: v.ExternalRef,
			Tier:        v.Tier,
			Library:     c.Param("lib"),
			Text:        req.Query,
			TopK:        req.TopK,
		}.Normalize()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		res, err := r.Retrieve(c.Request().Context(), q)
		if err != nil {
			log.Errorf("content retrieval failed: library=%s: %v", q.Library, err)
			if errors.Is(err, content.ErrNoHealthy) {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "content unavailable"})
			}
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "content unavailable"})
		}
		if res.Matches == nil {
			res.Matches = []content.Match{}
		}

		resp := queryResp{Context: res.Context, Matches: res.Matches}
		if d, ok := middleware.DecisionFromCtx(c); ok && d.Remaining >= 0 {
			remaining := d.Remaining
			resp.Remaining = &remaining
		}
		return c.JSON(http.StatusOK, resp)
	}
}
