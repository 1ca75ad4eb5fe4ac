package alerts

// Point is a position on the screen, in cells
type Point struct {
	X, Y int
}

// Size is the extent of a window, in cells
type Size struct {
	Width, Height int
}

// Screen is the area alert windows are stacked in. Windows are stacked upwards from the
// bottom right corner, Margin cells away from both edges and Gap cells apart.
type Screen struct {
	Width, Height int
	Margin        int
	Gap           int
}

// Layout returns the position of every window, bottom-most first
func (s Screen) Layout(sizes []Size) []Point {
	points := make([]Point, 0, len(sizes))
	bottom := s.Height - s.Margin
	for _, size := range sizes {
		top := bottom - size.Height
		points = append(points, Point{X: s.Width - s.Margin - size.Width, Y: top})
		bottom = top - s.Gap
	}
	return points
}
