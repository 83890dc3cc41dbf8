package translate

import (
	"strconv"
	"strings"
)

// MaxImages bounds the number of images requested per job.
const MaxImages = 4

// Dimensions is a parsed "WxH" size with its reduced aspect ratio.
type Dimensions struct {
	Width       int
	Height      int
	AspectRatio string
}

// ParseSize parses an OpenAI style size such as "1024x768". The boolean is
// false for empty or malformed input.
func ParseSize(size string) (Dimensions, bool) {
	size = strings.ToLower(strings.TrimSpace(size))
	if size == "" {
		return Dimensions{}, false
	}
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return Dimensions{}, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return Dimensions{}, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return Dimensions{}, false
	}
	return Dimensions{Width: width, Height: height, AspectRatio: AspectRatio(width, height)}, true
}

// AspectRatio reduces width and height by their greatest common divisor.
// Zero or negative input yields "1:1".
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}
	d := gcd(width, height)
	return strconv.Itoa(width/d) + ":" + strconv.Itoa(height/d)
}

// ClampImageCount bounds n to [1, MaxImages].
func ClampImageCount(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxImages:
		return MaxImages
	default:
		return n
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
