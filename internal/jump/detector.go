package jump

// Detector finds change points in a complete series.
type Detector interface {
	DetectChanges(series []float64) []ChangePoint
}

// DetectChanges runs a fresh Finder over series. The Finder stops at the
// first jump, so the result holds at most one change point.
func (c Config) DetectChanges(series []float64) []ChangePoint {
	cp, ok := Detect(series, c)
	if !ok {
		return nil
	}
	return []ChangePoint{cp}
}

// Detect returns the first jump in series. Invalid parameters find nothing.
func Detect(series []float64, cfg Config) (ChangePoint, bool) {
	f, err := NewFinder(cfg)
	if err != nil {
		return ChangePoint{}, false
	}
	for _, v := range series {
		if f.Push(v) {
			break
		}
	}
	return f.ChangePoint()
}
