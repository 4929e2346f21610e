package scraper

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/shuttlebot/route"
)

const (
	rowSelector  = `div[class*="cl-grid-row"]`
	cellSelector = `div[class*="cl-grid-cell"]`
	// headerRows is the number of grid rows before the first route.
	headerRows = 2
	// minCells is the number of columns a route row must have.
	minCells = 7
)

// Parse reads the route grid out of the portal frame HTML. Header rows are
// skipped; rows with too few cells are logged and skipped. IDs are
// normalised the same way as user input. Unparseable seat counts become 0/0.
func Parse(r io.Reader, logger *slog.Logger) ([]route.Route, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	rows := doc.Find(rowSelector)
	routes := make([]route.Route, 0, max(rows.Length()-headerRows, 0))

	rows.Each(func(i int, row *goquery.Selection) {
		if i < headerRows {
			return
		}
		cells := row.Find(cellSelector)
		if cells.Length() < minCells {
			logger.Warn("scraper: incomplete row",
				"row", i-headerRows+1, "cells", cells.Length())
			return
		}

		text := func(n int) string { return cellText(cells.Eq(n)) }

		rt := route.Route{
			ID:        route.NormalizeID(text(0)),
			BusType:   text(1),
			BusNumber: text(2),
			Vehicle:   text(3),
			Region:    text(4),
			Detail:    text(5),
		}
		seats := text(6)
		occupied, total, ok := route.ParseSeats(seats)
		if !ok {
			logger.Debug("scraper: unparseable seats", "id", rt.ID, "seats", seats)
		}
		rt.Occupied, rt.Total = occupied, total
		routes = append(routes, rt)
	})

	if len(routes) == 0 {
		logger.Warn("scraper: no route rows found", "rows", rows.Length())
	}
	return routes, nil
}

// cellText returns the text of the first .cl-text element in a cell: the
// value attribute for inputs, the trimmed text otherwise.
func cellText(cell *goquery.Selection) string {
	el := cell.Find(".cl-text").First()
	if el.Length() == 0 {
		return ""
	}
	if n := el.Get(0); n.DataAtom == atom.Input {
		v, _ := el.Attr("value")
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(el.Text())
}
