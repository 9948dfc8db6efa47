package view

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	svgMargin   = 10
	charWidth   = 7 // approximate advance of the label font
	svgStyle    = `.marker rect{fill:#fff;stroke:#888}.marker.active rect{stroke:#1e90ff;stroke-width:2}.edge,.arrow{fill:none;stroke:#888}.file{fill:#888;font-size:10px}text{font-family:sans-serif;font-size:12px}`
	ellipsis    = "…"
	labelInsetY = 18
	fileInsetY  = 36
)

// RenderSVG writes the laid-out canvas, including the pan offset, as a
// standalone SVG document.
func (c *Canvas) RenderSVG(w io.Writer) error {
	bw := bufio.NewWriter(w)
	width := c.result.Width + 2*svgMargin
	height := c.result.Height + 2*svgMargin

	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s">`,
		num(width), num(height), num(width), num(height))
	fmt.Fprintf(bw, "<style>%s</style>", svgStyle)
	fmt.Fprintf(bw, `<g transform="translate(%s %s)">`, num(c.offset.X+svgMargin), num(c.offset.Y+svgMargin))

	for _, conn := range c.edges.All() {
		fmt.Fprintf(bw, `<path class="edge" d="%s"/>`, conn.Path.D())
		fmt.Fprintf(bw, `<path class="arrow" d="%s"/>`, conn.Path.ArrowD())
	}

	for _, n := range c.Nodes() {
		class := "marker"
		if n.Active {
			class += " active"
		}
		fmt.Fprintf(bw, `<g class="%s" data-id="%s">`, class, escape(n.ID))
		fmt.Fprintf(bw, `<rect x="%s" y="%s" width="%s" height="%s" rx="6"/>`,
			num(n.Box.Left()), num(n.Box.Y), num(n.Box.Width), num(n.Box.Height))
		limit := int(n.Box.Width/charWidth) - 1
		fmt.Fprintf(bw, `<text x="%s" y="%s" text-anchor="middle">%s</text>`,
			num(n.Box.X), num(n.Box.Y+labelInsetY), escape(truncate(n.Label, limit)))
		fmt.Fprintf(bw, `<text class="file" x="%s" y="%s" text-anchor="middle">%s</text>`,
			num(n.Box.X), num(n.Box.Y+fileInsetY), escape(truncate(n.File, limit)))
		bw.WriteString("</g>")
	}

	bw.WriteString("</g></svg>\n")
	return bw.Flush()
}

// truncate shortens s to at most limit runes, marking the cut.
func truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + ellipsis
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
