package popup

import "image"

// PlaceNear computes the popup rectangle for a cursor position, preferring
// below the cursor and flipping above when the preferred rectangle would
// overflow the monitor's bottom edge. The result is clamped to the monitor
// containing the cursor.
func PlaceNear(cursor image.Point, monitor image.Rectangle, size image.Point, offset int) image.Rectangle {
	x := cursor.X + offset
	y := cursor.Y + offset
	if y+size.Y > monitor.Max.Y {
		y = cursor.Y - offset - size.Y
	}

	x = clamp(x, monitor.Min.X, monitor.Max.X-size.X)
	y = clamp(y, monitor.Min.Y, monitor.Max.Y-size.Y)

	return image.Rect(x, y, x+size.X, y+size.Y)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
