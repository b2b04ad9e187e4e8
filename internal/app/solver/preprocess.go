package solver

import (
	"context"
	"image"
	"image/color"
	"runtime"
	"sort"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

type transform struct {
	name  string
	apply func(image.Image) *image.NRGBA
}

// Variant is one preprocessed rendition of a challenge.
type Variant struct {
	Method string
	Order  int
	Image  *image.NRGBA
}

const (
	globalThreshold   = 128
	adaptiveOffset    = 7
	adaptiveSigma     = 2.0
	contrastPercent   = 60
	sharpenSigma      = 1.5
	saturationMinimum = 0.35
	brightnessMinimum = 0.2
)

var laplacian = [9]float64{
	0, 1, 0,
	1, -4, 1,
	0, 1, 0,
}

// transforms is the fixed ensemble in priority order.
var transforms = []transform{
	{"original", imaging.Clone},
	{"grayscale", imaging.Grayscale},
	{"threshold_global", func(img image.Image) *image.NRGBA { return binarize(imaging.Grayscale(img), globalThreshold) }},
	{"threshold_adaptive", adaptiveThreshold},
	{"otsu", func(img image.Image) *image.NRGBA {
		g := imaging.Grayscale(img)
		return binarize(g, otsuLevel(g))
	}},
	{"denoise", func(img image.Image) *image.NRGBA { return median3x3(imaging.Grayscale(img)) }},
	{"morph_open", func(img image.Image) *image.NRGBA { return minFilter(maxFilter(otsu(img))) }},
	{"dilate", func(img image.Image) *image.NRGBA { return minFilter(otsu(img)) }},
	{"erode", func(img image.Image) *image.NRGBA { return maxFilter(otsu(img)) }},
	{"edges", func(img image.Image) *image.NRGBA {
		edges := imaging.Convolve3x3(imaging.Grayscale(img), laplacian, &imaging.ConvolveOptions{Abs: true})
		return imaging.Invert(edges)
	}},
	{"contrast", func(img image.Image) *image.NRGBA { return imaging.AdjustContrast(imaging.Grayscale(img), contrastPercent) }},
	{"sharpen", func(img image.Image) *image.NRGBA { return imaging.Sharpen(img, sharpenSigma) }},
	{"upscale", func(img image.Image) *image.NRGBA {
		return imaging.Resize(img, img.Bounds().Dx()*2, 0, imaging.Lanczos)
	}},
	{"saturation", isolateSaturated},
	{"channel_red", func(img image.Image) *image.NRGBA { return channel(img, 0) }},
	{"channel_green", func(img image.Image) *image.NRGBA { return channel(img, 1) }},
	{"channel_blue", func(img image.Image) *image.NRGBA { return channel(img, 2) }},
}

// Methods lists the transform names in ensemble order.
func Methods() []string {
	names := make([]string, len(transforms))
	for i, t := range transforms {
		names[i] = t.name
	}
	return names
}

// Preprocess renders every transform of img concurrently. The result keeps
// ensemble order.
func Preprocess(ctx context.Context, img image.Image) ([]Variant, error) {
	variants := make([]Variant, len(transforms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, t := range transforms {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			variants[i] = Variant{Method: t.name, Order: i, Image: t.apply(img)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return variants, nil
}

func otsu(img image.Image) *image.NRGBA {
	g := imaging.Grayscale(img)
	return binarize(g, otsuLevel(g))
}

// binarize maps a grayscale image to black below level and white otherwise.
func binarize(gray *image.NRGBA, level uint8) *image.NRGBA {
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		if c.R < level {
			return color.NRGBA{0, 0, 0, c.A}
		}
		return color.NRGBA{255, 255, 255, c.A}
	})
}

func adaptiveThreshold(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	mean := imaging.Blur(gray, adaptiveSigma)
	out := imaging.Clone(gray)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		v := 255
		if int(gray.Pix[i]) < int(mean.Pix[i])-adaptiveOffset {
			v = 0
		}
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = uint8(v), uint8(v), uint8(v)
	}
	return out
}

// otsuLevel picks the threshold maximizing between-class variance.
func otsuLevel(gray *image.NRGBA) uint8 {
	var hist [256]int
	total := 0
	for i := 0; i+3 < len(gray.Pix); i += 4 {
		hist[gray.Pix[i]]++
		total++
	}
	if total == 0 {
		return globalThreshold
	}

	sum := 0.0
	for v, n := range hist {
		sum += float64(v * n)
	}

	var (
		sumB, best float64
		wB         int
		level      uint8 = globalThreshold
	)
	for v := 0; v < 256; v++ {
		wB += hist[v]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(v * hist[v])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = uint8(v + 1)
		}
	}
	return level
}

// median3x3 replaces each pixel with the median of its neighbourhood.
func median3x3(gray *image.NRGBA) *image.NRGBA {
	return neighbourhood(gray, func(window []uint8) uint8 {
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
		return window[len(window)/2]
	})
}

// minFilter grows dark strokes.
func minFilter(gray *image.NRGBA) *image.NRGBA {
	return neighbourhood(gray, func(window []uint8) uint8 {
		m := window[0]
		for _, v := range window[1:] {
			if v < m {
				m = v
			}
		}
		return m
	})
}

// maxFilter thins dark strokes.
func maxFilter(gray *image.NRGBA) *image.NRGBA {
	return neighbourhood(gray, func(window []uint8) uint8 {
		m := window[0]
		for _, v := range window[1:] {
			if v > m {
				m = v
			}
		}
		return m
	})
}

// neighbourhood applies reduce over the clamped 3x3 window of every pixel of
// a grayscale image.
func neighbourhood(gray *image.NRGBA, reduce func([]uint8) uint8) *image.NRGBA {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	window := make([]uint8, 0, 9)

	at := func(x, y int) uint8 {
		x = clamp(x, 0, w-1)
		y = clamp(y, 0, h-1)
		return gray.Pix[y*gray.Stride+x*4]
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window = append(window, at(x+dx, y+dy))
				}
			}
			v := reduce(window)
			i := y*out.Stride + x*4
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
			out.Pix[i+3] = gray.Pix[y*gray.Stride+x*4+3]
		}
	}
	return out
}

// isolateSaturated keeps strongly coloured pixels as black ink on white.
func isolateSaturated(img image.Image) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		maxC := max(c.R, c.G, c.B)
		minC := min(c.R, c.G, c.B)
		value := float64(maxC) / 255
		sat := 0.0
		if maxC > 0 {
			sat = float64(maxC-minC) / float64(maxC)
		}
		if sat >= saturationMinimum && value >= brightnessMinimum {
			return color.NRGBA{0, 0, 0, 255}
		}
		return color.NRGBA{255, 255, 255, 255}
	})
}

func channel(img image.Image, idx int) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := [3]uint8{c.R, c.G, c.B}[idx]
		return color.NRGBA{v, v, v, c.A}
	})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
