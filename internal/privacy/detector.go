package privacy

// Detect normalizes text and reports, for each class in order, the values its
// pattern matches in first-to-last order, repeats included.
//
// Detection runs against the progressively masked text, exactly as Mask
// sees it: a span rewritten by an earlier class is not matched again by a
// later one. The text itself is not returned.
func Detect(text string, classes []*EntityClass) []Detection {
	_, _, detections, _ := mask(text, classes, "")
	return detections
}
