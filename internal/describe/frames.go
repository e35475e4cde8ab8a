package describe

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"sort"

	"github.com/technosupport/ts-events/internal/data"
	"golang.org/x/image/draw"
)

const (
	DefaultTargetDimension = 1280
	DefaultMaxFrames       = 3
	jpegQuality            = 85
)

type Image struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
}

// Preprocessor selects and resizes the frames sent to a provider.
type Preprocessor struct {
	TargetDimension int
	MaxFrames       int
}

// Prepare returns the provider images for a trigger and the selected key frame
// used as the event thumbnail.
func (p Preprocessor) Prepare(frames []data.Frame, mode data.AnalysisMode) ([]Image, Image, error) {
	if len(frames) == 0 {
		return nil, Image{}, fmt.Errorf("%w: no frames", ErrCaptureFailure)
	}
	target := p.TargetDimension
	if target <= 0 {
		target = DefaultTargetDimension
	}

	ordered := make([]data.Frame, len(frames))
	copy(ordered, frames)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CapturedAt.Before(ordered[j].CapturedAt)
	})

	peak, err := encodeFrame(ordered[PeakFrame(ordered)], target)
	if err != nil {
		return nil, Image{}, err
	}
	if mode != data.AnalysisMultiFrame || len(ordered) == 1 {
		return []Image{peak}, peak, nil
	}

	max := p.MaxFrames
	if max <= 0 {
		max = DefaultMaxFrames
	}
	var images []Image
	for _, i := range SampleFrames(len(ordered), max) {
		img, err := encodeFrame(ordered[i], target)
		if err != nil {
			return nil, Image{}, err
		}
		images = append(images, img)
	}
	return images, peak, nil
}

// PeakFrame returns the index of the frame with the highest motion score.
// Without scores it picks the middle frame.
func PeakFrame(frames []data.Frame) int {
	best := -1
	var bestScore float64
	for i, f := range frames {
		if f.MotionScore == nil {
			continue
		}
		if best < 0 || *f.MotionScore > bestScore {
			best = i
			bestScore = *f.MotionScore
		}
	}
	if best >= 0 {
		return best
	}
	return len(frames) / 2
}

// SampleFrames returns up to n evenly spaced indices over total frames.
func SampleFrames(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if total <= n {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if n == 1 {
		return []int{total / 2}
	}
	idx := make([]int, n)
	for i := 0; i < n; i++ {
		idx[i] = i * (total - 1) / (n - 1)
	}
	return idx
}

func encodeFrame(f data.Frame, target int) (Image, error) {
	src, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: decode: %v", ErrCaptureFailure, err)
	}

	img := Downscale(src, target)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Image{}, fmt.Errorf("%w: encode: %v", ErrCaptureFailure, err)
	}
	b := img.Bounds()
	return Image{Data: buf.Bytes(), MediaType: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// Downscale fits img within max pixels on its longest side, keeping the aspect
// ratio. Smaller images are returned unchanged.
func Downscale(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max <= 0 || (w <= max && h <= max) {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = max
		nh = h * max / w
	} else {
		nh = max
		nw = w * max / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
