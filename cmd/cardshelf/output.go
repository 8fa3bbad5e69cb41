package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/jonwraymond/cardshelf/cards"
	"github.com/jonwraymond/cardshelf/collection"
	"github.com/jonwraymond/cardshelf/grid"
	"github.com/jonwraymond/cardshelf/preload"
)

const maxTitle = 48

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type stats struct {
	results   int
	preload   preload.Stats
	prerender int
}

func printFrame(w io.Writer, st collection.State, frame grid.Frame[cards.Card]) {
	name := st.Collection.Username
	if name == "" {
		name = st.Params.CollectionID
	}
	pg := st.Pagination
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s: page %d of %d, %d cards", name, pg.Page, pg.TotalPages, pg.TotalCards)))

	mode := "flat"
	if frame.Virtualized {
		mode = "virtualized"
	}
	fmt.Fprintln(w, helpStyle.Render(fmt.Sprintf("%s grid, %d columns, items %d-%d, height %.0fpx",
		mode, frame.Columns, frame.Range.Start, frame.Range.End, frame.Height)))

	if len(frame.Items) == 0 {
		fmt.Fprintln(w, helpStyle.Render("no cards"))
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("63"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("#", "ROW", "COL", "ID", "TITLE", "CREATED")
	for _, p := range frame.Items {
		t.Row(
			strconv.Itoa(p.Index),
			strconv.Itoa(p.Row),
			strconv.Itoa(p.Col),
			p.Item.ID,
			truncate(p.Item.Title, maxTitle),
			p.Item.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printStats(w io.Writer, s stats) {
	fmt.Fprintln(w, helpStyle.Render(fmt.Sprintf(
		"results cache: %d entries | preload: %d cards, %d pages, %d images, %d embeds | prerendered: %d",
		s.results, s.preload.Cards, s.preload.Pages, s.preload.SeenImages, s.preload.SeenIframes, s.prerender)))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
