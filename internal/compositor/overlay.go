package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

const overlayThickness = 2

var (
	colorBox       = color.NRGBA{R: 0, G: 255, B: 0, A: 255}
	colorSensitive = color.NRGBA{R: 0, G: 255, B: 0, A: 255}
	colorOther     = color.NRGBA{R: 255, G: 0, B: 0, A: 255}
	colorLabelBg   = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
)

// DrawOverlay returns a copy of frame with every detection outlined and,
// where a classification exists for the box, its label and score written
// above it.
func DrawOverlay(frame *types.Frame, set types.DetectionSet, results []types.Classification) *types.Frame {
	img := frame.Image()
	for _, d := range set.Detections {
		drawRect(img, d.Box.Rect(), colorBox, overlayThickness)
	}
	for _, c := range results {
		col := colorOther
		if c.Label == types.LabelSensitive {
			col = colorSensitive
		}
		score := c.ScoreOther
		if c.Label == types.LabelSensitive {
			score = c.ScoreSensitive
		}
		drawLabel(img, c.Box, fmt.Sprintf("%s %.2f", c.Label, score), col)
	}
	out := types.FrameFromImage(img)
	out.Timestamp = frame.Timestamp
	out.TraceID = frame.TraceID
	return out
}

// drawRect outlines r with the given thickness, clipped to the image.
func drawRect(img draw.Image, r image.Rectangle, c color.Color, thickness int) {
	if r.Empty() {
		return
	}
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), u, image.Point{}, draw.Src)
	}
}

// drawLabel writes text on a black background just above the box, or just
// inside it when the box touches the top edge.
func drawLabel(img draw.Image, box types.BoundingBox, text string, c color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	top := box.Y1 - height - 1
	if top < 0 {
		top = box.Y1 + overlayThickness
	}
	bg := image.Rect(box.X1, top, box.X1+width+2, top+height+1)
	draw.Draw(img, bg.Intersect(img.Bounds()), image.NewUniform(colorLabelBg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(box.X1+1, top+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
