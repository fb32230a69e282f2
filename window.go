package chipper

import (
	"fmt"
	"iter"
)

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// Pixels is a height*width*channels array stored in row-major, pixel
// interleaved order: the value of channel c at row y and column x is
// Data[(y*Width+x)*Channels+c]
type Pixels struct {
	Width, Height, Channels int
	Data                    []float32
}

// NewPixels allocates a zero-filled array
func NewPixels(width, height, channels int) Pixels {
	return Pixels{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]float32, width*height*channels),
	}
}

func (p Pixels) At(x, y, c int) float32 {
	return p.Data[(y*p.Width+x)*p.Channels+c]
}

func (p Pixels) Set(x, y, c int, v float32) {
	p.Data[(y*p.Width+x)*p.Channels+c] = v
}

// A Window is a TileSize*TileSize block of pixels whose top-left pixel is at
// column X and row Y of the source array. Windows on the right and bottom edges
// of the array have ValidWidth/ValidHeight smaller than the tile size, the
// remaining pixels are set to the Windower's fill value.
type Window struct {
	X, Y                    int
	ValidWidth, ValidHeight int
	Pixels                  Pixels
}

// A Windower partitions a pixel array into non overlapping square windows
type Windower struct {
	tileSize int
	fill     float32
	src      Pixels
}

type WindowerOption func(w *Windower) error

// TileSize sets the side of the square windows. Defaults to 512
func TileSize(size int) WindowerOption {
	return func(w *Windower) error {
		if size <= 0 {
			return ErrInvalidOption{"tile size must be >=1"}
		}
		w.tileSize = size
		return nil
	}
}

// FillValue sets the value used to pad edge windows. Defaults to 0
func FillValue(v float32) WindowerOption {
	return func(w *Windower) error {
		w.fill = v
		return nil
	}
}

func NewWindower(src Pixels, options ...WindowerOption) (Windower, error) {
	w := Windower{
		tileSize: 512,
		src:      src,
	}
	for _, o := range options {
		if err := o(&w); err != nil {
			return w, err
		}
	}
	if src.Width*src.Height*src.Channels == 0 {
		return w, ErrInvalidOption{"cannot window 0-sized array"}
	}
	if len(src.Data) != src.Width*src.Height*src.Channels {
		return w, ErrInvalidOption{fmt.Sprintf("pixel buffer has %d values, expecting %dx%dx%d",
			len(src.Data), src.Width, src.Height, src.Channels)}
	}
	return w, nil
}

func (w Windower) TileSize() int {
	return w.tileSize
}

// Count returns the number of windows, i.e. ceil(H/T)*ceil(W/T)
func (w Windower) Count() int {
	nx, ny := w.grid()
	return nx * ny
}

func (w Windower) grid() (nx, ny int) {
	nx = (w.src.Width + w.tileSize - 1) / w.tileSize
	ny = (w.src.Height + w.tileSize - 1) / w.tileSize
	return
}

// Windows returns the sequence of windows, row band by row band from the top,
// left to right inside a band. Pixels are copied lazily, one window per
// iteration. The sequence can be iterated any number of times.
func (w Windower) Windows() iter.Seq[Window] {
	return func(yield func(Window) bool) {
		for y := 0; y < w.src.Height; y += w.tileSize {
			for x := 0; x < w.src.Width; x += w.tileSize {
				if !yield(w.window(x, y)) {
					return
				}
			}
		}
	}
}

func (w Windower) window(x, y int) Window {
	vw := min(w.tileSize, w.src.Width-x)
	vh := min(w.tileSize, w.src.Height-y)
	win := Window{
		X:           x,
		Y:           y,
		ValidWidth:  vw,
		ValidHeight: vh,
		Pixels:      NewPixels(w.tileSize, w.tileSize, w.src.Channels),
	}
	nc := w.src.Channels
	if w.fill != 0 && (vw < w.tileSize || vh < w.tileSize) {
		for i := range win.Pixels.Data {
			win.Pixels.Data[i] = w.fill
		}
	}
	for r := 0; r < vh; r++ {
		so := ((y+r)*w.src.Width + x) * nc
		do := r * w.tileSize * nc
		copy(win.Pixels.Data[do:do+vw*nc], w.src.Data[so:so+vw*nc])
	}
	return win
}
