package gauge

import (
	"bytes"
	"fmt"
	"html"
	"math"
)

const (
	size        = 200
	radius      = 80
	strokeWidth = 16

	// The scale starts at the lower left and runs clockwise over the top
	startDeg = 90 + GapDeg/2

	activeColor   = "#f5a623"
	inactiveColor = "#3c3c3c"
)

// SVG renders v as a standalone SVG document
func SVG(v View) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" width=\"%d\" height=\"%d\">\n", size, size, size, size))

	buf.WriteString(fmt.Sprintf("<g fill=\"none\" stroke-width=\"%d\" stroke-linecap=\"butt\">\n", strokeWidth))
	writeArc(&buf, startDeg, v.ActiveDeg, activeColor, "active")
	writeArc(&buf, startDeg+v.ActiveDeg, v.InactiveDeg, inactiveColor, "inactive")
	writeArc(&buf, startDeg+ScaleDeg, v.GapDeg, "transparent", "gap")
	buf.WriteString("</g>\n")

	// Figures
	buf.WriteString("<g font-family=\"sans-serif\" text-anchor=\"middle\" fill=\"#fff\">\n")
	buf.WriteString(fmt.Sprintf("<text x=\"100\" y=\"98\" font-size=\"26\" class=\"power\">%s</text>\n", html.EscapeString(v.PowerText)))
	buf.WriteString(fmt.Sprintf("<text x=\"100\" y=\"126\" font-size=\"14\" class=\"daily\">%s</text>\n", html.EscapeString(v.DailyText)))
	buf.WriteString(fmt.Sprintf("<text x=\"100\" y=\"146\" font-size=\"14\" class=\"total\">%s</text>\n", html.EscapeString(v.TotalText)))
	buf.WriteString("</g>\n")

	writeIcon(&buf, v.Icons.Power, 88, 50)
	writeIcon(&buf, v.Icons.Daily, 48, 114)
	writeIcon(&buf, v.Icons.Total, 48, 134)

	buf.WriteString("</svg>")
	return buf.Bytes()
}

// writeArc draws a clockwise arc of sweep degrees starting at from
func writeArc(buf *bytes.Buffer, from, sweep float64, color, class string) {
	if sweep <= 0 {
		return
	}
	x1, y1 := point(from)
	x2, y2 := point(from + sweep)
	largeArc := 0
	if sweep > 180 {
		largeArc = 1
	}
	buf.WriteString(fmt.Sprintf("<path class=\"%s\" stroke=\"%s\" d=\"M %.2f %.2f A %d %d 0 %d 1 %.2f %.2f\"/>\n",
		class, color, x1, y1, radius, radius, largeArc, x2, y2))
}

func writeIcon(buf *bytes.Buffer, href string, x, y int) {
	if href == "" {
		return
	}
	buf.WriteString(fmt.Sprintf("<image href=\"%s\" x=\"%d\" y=\"%d\" width=\"24\" height=\"24\"/>\n", html.EscapeString(href), x, y))
}

// point returns the position on the ring at deg, measured clockwise from
// the positive x axis
func point(deg float64) (float64, float64) {
	rad := deg * math.Pi / 180
	return size/2 + radius*math.Cos(rad), size/2 + radius*math.Sin(rad)
}
