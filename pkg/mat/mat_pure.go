//go:build purego || js

package mat

import (
	"image"
	"math"
	"sort"
)

// Mat is the pure-Go fallback 2D float32 matrix, used when the native
// OpenCV backend is unavailable (WASM builds, or a build tagged purego).
type Mat struct {
	data    []float32
	rows    int
	cols    int
	stride  int
	dataOff int
	owned   bool
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{data: make([]float32, rows*cols), rows: rows, cols: cols, stride: cols, owned: true}
}

func (m Mat) Rows() int   { return m.rows }
func (m Mat) Cols() int   { return m.cols }
func (m Mat) Empty() bool { return m.data == nil || m.rows == 0 || m.cols == 0 }

func (m Mat) Clone() Mat {
	newData := make([]float32, m.rows*m.cols)
	for r := 0; r < m.rows; r++ {
		srcOff := m.dataOff + r*m.stride
		copy(newData[r*m.cols:], m.data[srcOff:srcOff+m.cols])
	}
	return Mat{data: newData, rows: m.rows, cols: m.cols, stride: m.cols, owned: true}
}

func (m *Mat) Close() {
	if m.owned {
		m.data = nil
	}
	m.rows, m.cols = 0, 0
}

func (m Mat) DataFloat32() []float32 { return m.data[m.dataOff:] }

func (m Mat) Region(r image.Rectangle) Mat {
	return Mat{data: m.data, rows: r.Dy(), cols: r.Dx(), stride: m.stride, dataOff: m.dataOff + r.Min.Y*m.stride + r.Min.X}
}

func (m *Mat) SetToZero() {
	for r := 0; r < m.rows; r++ {
		off := m.dataOff + r*m.stride
		for c := 0; c < m.cols; c++ {
			m.data[off+c] = 0
		}
	}
}

func CopyMatTo(src Mat, dst *Mat) {
	if dst.rows != src.rows || dst.cols != src.cols || dst.data == nil {
		*dst = NewMatWithSize(src.rows, src.cols)
	}
	for r := 0; r < src.rows; r++ {
		srcOff := src.dataOff + r*src.stride
		dstOff := dst.dataOff + r*dst.stride
		copy(dst.data[dstOff:dstOff+src.cols], src.data[srcOff:srcOff+src.cols])
	}
}

func reflectIndex(idx, size int) int {
	if idx < 0 {
		idx = -idx
	}
	for idx >= size {
		idx = 2*size - 2 - idx
		if idx < 0 {
			idx = -idx
		}
	}
	return idx
}

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	rows, cols := src.rows, src.cols
	srcData := src.DataFloat32()
	kx := kernelX.DataFloat32()
	ky := kernelY.DataFloat32()
	kxLen := kernelX.rows * kernelX.cols
	kyLen := kernelY.rows * kernelY.cols
	kxHalf := kxLen / 2
	kyHalf := kyLen / 2

	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}

	temp := make([]float32, rows*cols)

	for r := 0; r < rows; r++ {
		rowOff := r * cols
		for c := 0; c < cols; c++ {
			var sum float32
			for k := 0; k < kxLen; k++ {
				cc := reflectIndex(c+k-kxHalf, cols)
				sum += srcData[rowOff+cc] * kx[k]
			}
			temp[rowOff+c] = sum
		}
	}

	dstData := dst.DataFloat32()
	for r := 0; r < rows; r++ {
		dstOff := r * cols
		for c := 0; c < cols; c++ {
			var sum float32
			for k := 0; k < kyLen; k++ {
				rr := reflectIndex(r+k-kyHalf, rows)
				sum += temp[rr*cols+c] * ky[k]
			}
			dstData[dstOff+c] = sum
		}
	}
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	m := NewMatWithSize(size, 1)
	data := m.DataFloat32()
	half := size / 2
	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - half)
		val := math.Exp(-x * x / (2 * sigma * sigma))
		data[i] = float32(val)
		sum += val
	}
	for i := range data[:size] {
		data[i] = float32(float64(data[i]) / sum)
	}
	return m
}

func medianBlur(src Mat, dst *Mat, ksize int) {
	rows, cols := src.rows, src.cols
	srcData := src.DataFloat32()
	result := make([]float32, rows*cols)

	if ksize == 3 {
		for r := 0; r < rows; r++ {
			r0, r1, r2 := r-1, r, r+1
			if r0 < 0 {
				r0 = 0
			}
			if r2 >= rows {
				r2 = rows - 1
			}
			row0, row1, row2 := r0*cols, r1*cols, r2*cols
			for c := 0; c < cols; c++ {
				c0, c2 := c-1, c+1
				if c0 < 0 {
					c0 = 0
				}
				if c2 >= cols {
					c2 = cols - 1
				}
				a := srcData[row0+c0]
				b := srcData[row0+c]
				cc := srcData[row0+c2]
				d := srcData[row1+c0]
				e := srcData[row1+c]
				f := srcData[row1+c2]
				g := srcData[row2+c0]
				h := srcData[row2+c]
				ii := srcData[row2+c2]
				if a > b {
					a, b = b, a
				}
				if d > e {
					d, e = e, d
				}
				if g > h {
					g, h = h, g
				}
				if a > d {
					a, d = d, a
				}
				if b > e {
					b, e = e, b
				}
				if d > g {
					d, g = g, d
				}
				if e > h {
					e, h = h, e
				}
				if cc > f {
					cc, f = f, cc
				}
				if f > ii {
					f, ii = ii, f
				}
				if cc > f {
					cc, f = f, cc
				}
				if a > cc {
					a, cc = cc, a
				}
				if b > f {
					b, f = f, b
				}
				if d > cc {
					d, cc = cc, d
				}
				if e > f {
					e, f = f, e
				}
				if d > b {
					d, b = b, d
				}
				if g > cc {
					g, cc = cc, g
				}
				if e > cc {
					e, cc = cc, e
				}
				if e > d {
					e, d = d, e
				}
				result[r*cols+c] = e
			}
		}
	} else {
		half := ksize / 2
		neighbors := make([]float32, ksize*ksize)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				idx := 0
				for dr := -half; dr <= half; dr++ {
					for dc := -half; dc <= half; dc++ {
						rr, cc := r+dr, c+dc
						if rr < 0 {
							rr = 0
						}
						if rr >= rows {
							rr = rows - 1
						}
						if cc < 0 {
							cc = 0
						}
						if cc >= cols {
							cc = cols - 1
						}
						neighbors[idx] = srcData[rr*cols+cc]
						idx++
					}
				}
				sort.Slice(neighbors[:idx], func(i, j int) bool { return neighbors[i] < neighbors[j] })
				result[r*cols+c] = neighbors[idx/2]
			}
		}
	}

	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}
	copy(dst.DataFloat32(), result)
}

func absDiff(a, b Mat, dst *Mat) {
	n := a.rows * a.cols
	ad, bd := a.DataFloat32(), b.DataFloat32()
	if dst.rows != a.rows || dst.cols != a.cols || dst.data == nil {
		*dst = NewMatWithSize(a.rows, a.cols)
	}
	dd := dst.DataFloat32()
	for i := 0; i < n; i++ {
		d := ad[i] - bd[i]
		if d < 0 {
			d = -d
		}
		dd[i] = d
	}
}

func thresholdBinary(src Mat, dst *Mat, thresh, maxval float32) {
	n := src.rows * src.cols
	sd := src.DataFloat32()
	if dst.rows != src.rows || dst.cols != src.cols || dst.data == nil {
		*dst = NewMatWithSize(src.rows, src.cols)
	}
	dd := dst.DataFloat32()
	for i := 0; i < n; i++ {
		if sd[i] > thresh {
			dd[i] = maxval
		} else {
			dd[i] = 0
		}
	}
}

func countNonZero(src Mat) int {
	data := src.DataFloat32()
	n := src.rows * src.cols
	count := 0
	for i := 0; i < n; i++ {
		if data[i] != 0 {
			count++
		}
	}
	return count
}

func dilate(src Mat, dst *Mat, kernelSize, iterations int, elliptical bool) {
	rows, cols := src.rows, src.cols
	half := kernelSize / 2

	type off struct{ dr, dc int }
	var offsets []off
	for dr := -half; dr <= half; dr++ {
		for dc := -half; dc <= half; dc++ {
			if elliptical {
				nr := float64(dr) / float64(half)
				nc := float64(dc) / float64(half)
				if nr*nr+nc*nc > 1.0 {
					continue
				}
			}
			offsets = append(offsets, off{dr, dc})
		}
	}

	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}

	current := make([]float32, rows*cols)
	copy(current, src.DataFloat32())
	result := make([]float32, rows*cols)

	for iter := 0; iter < iterations; iter++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				maxVal := current[r*cols+c]
				for _, o := range offsets {
					rr := reflectIndex(r+o.dr, rows)
					cc := reflectIndex(c+o.dc, cols)
					if v := current[rr*cols+cc]; v > maxVal {
						maxVal = v
					}
				}
				result[r*cols+c] = maxVal
			}
		}
		current, result = result, current
	}
	copy(dst.DataFloat32(), current)
}

func morphDilateEllipse(src Mat, dst *Mat, kernelSize, iterations int) {
	dilate(src, dst, kernelSize, iterations, true)
}

func dilateSquare(src Mat, dst *Mat, kernelSize, iterations int) {
	dilate(src, dst, kernelSize, iterations, false)
}

func inRangeScalar(src Mat, lower, upper float32, dst *Mat) {
	n := src.rows * src.cols
	sd := src.DataFloat32()
	if dst.rows != src.rows || dst.cols != src.cols || dst.data == nil {
		*dst = NewMatWithSize(src.rows, src.cols)
	}
	dd := dst.DataFloat32()
	for i := 0; i < n; i++ {
		if sd[i] >= lower && sd[i] <= upper {
			dd[i] = 1.0
		} else {
			dd[i] = 0
		}
	}
}

func matMeanStdDev(src Mat) (float64, float64) {
	data := src.DataFloat32()
	n := src.rows * src.cols
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(data[i])
	}
	mean := sum / float64(n)
	var sse float64
	for i := 0; i < n; i++ {
		d := float64(data[i]) - mean
		sse += d * d
	}
	return mean, math.Sqrt(sse / float64(n))
}

func matCopyToWithMask(src Mat, dst *Mat, mask Mat) {
	n := src.rows * src.cols
	sd, dd, md := src.DataFloat32(), dst.DataFloat32(), mask.DataFloat32()
	for i := 0; i < n; i++ {
		if md[i] != 0 {
			dd[i] = sd[i]
		}
	}
}

func imWriteMat(_ string, _ Mat) {}

func imReadMat(_ string) Mat { return Mat{} }

func matConvertToFloat(src Mat, dst *Mat) {
	CopyMatTo(src, dst)
}

// resizeCubic resizes src by scale using a 4-tap Catmull-Rom bicubic
// kernel applied separably, matching the native backend's bicubic
// interpolation within the documented tolerance.
func resizeCubic(src Mat, dst *Mat, scale float64) {
	srcW, srcH := src.cols, src.rows
	dstW := int(float64(srcW) * scale)
	dstH := int(float64(srcH) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}
	*dst = NewMatWithSize(dstH, dstW)
	srcData := src.DataFloat32()
	dstData := dst.DataFloat32()

	sampleRow := func(row []float32, x float64) float32 {
		x0 := int(math.Floor(x))
		frac := x - float64(x0)
		var sum float32
		for k := -1; k <= 2; k++ {
			idx := reflectIndex(x0+k, srcW)
			sum += row[idx] * float32(cubicWeight(float64(k)-frac))
		}
		return sum
	}

	invScale := 1.0 / scale
	for dy := 0; dy < dstH; dy++ {
		sy := (float64(dy)+0.5)*invScale - 0.5
		sy0 := int(math.Floor(sy))
		fracY := sy - float64(sy0)
		for dx := 0; dx < dstW; dx++ {
			sx := (float64(dx)+0.5)*invScale - 0.5
			var acc float32
			for k := -1; k <= 2; k++ {
				rowIdx := reflectIndex(sy0+k, srcH)
				row := srcData[rowIdx*src.stride : rowIdx*src.stride+srcW]
				acc += sampleRow(row, sx) * float32(cubicWeight(float64(k)-fracY))
			}
			dstData[dy*dstW+dx] = acc
		}
	}
}

// cubicWeight is the Catmull-Rom convolution kernel (a = -0.5).
func cubicWeight(x float64) float64 {
	const a = -0.5
	x = math.Abs(x)
	if x <= 1 {
		return (a+2)*x*x*x - (a+3)*x*x + 1
	}
	if x < 2 {
		return a*x*x*x - 5*a*x*x + 8*a*x - 4*a
	}
	return 0
}

// canny is a from-scratch Sobel-gradient + non-maximum-suppression +
// hysteresis implementation matching the native backend's Canny within
// the documented tolerance.
func canny(src Mat, dst *Mat, low, high float32, blurFirst bool) {
	rows, cols := src.rows, src.cols
	input := src
	var blurred Mat
	if blurFirst {
		blurred = NewMatWithSize(rows, cols)
		ConvolveGaussian(&src, &blurred, 5)
		input = blurred
		defer blurred.Close()
	}
	data := input.DataFloat32()

	gx := make([]float32, rows*cols)
	gy := make([]float32, rows*cols)
	mag := make([]float32, rows*cols)
	dir := make([]float32, rows*cols)

	at := func(r, c int) float32 {
		return data[reflectIndex(r, rows)*cols+reflectIndex(c, cols)]
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sx := -at(r-1, c-1) + at(r-1, c+1) - 2*at(r, c-1) + 2*at(r, c+1) - at(r+1, c-1) + at(r+1, c+1)
			sy := -at(r-1, c-1) - 2*at(r-1, c) - at(r-1, c+1) + at(r+1, c-1) + 2*at(r+1, c) + at(r+1, c+1)
			idx := r*cols + c
			gx[idx], gy[idx] = sx, sy
			mag[idx] = float32(math.Hypot(float64(sx), float64(sy)))
			dir[idx] = float32(math.Atan2(float64(sy), float64(sx)))
		}
	}

	suppressed := make([]float32, rows*cols)
	for r := 1; r < rows-1; r++ {
		for c := 1; c < cols-1; c++ {
			idx := r*cols + c
			angle := dir[idx]
			deg := angle * 180.0 / math.Pi
			if deg < 0 {
				deg += 180
			}
			var n1, n2 float32
			switch {
			case deg < 22.5 || deg >= 157.5:
				n1, n2 = mag[idx-1], mag[idx+1]
			case deg < 67.5:
				n1, n2 = mag[idx-cols+1], mag[idx+cols-1]
			case deg < 112.5:
				n1, n2 = mag[idx-cols], mag[idx+cols]
			default:
				n1, n2 = mag[idx-cols-1], mag[idx+cols+1]
			}
			if mag[idx] >= n1 && mag[idx] >= n2 {
				suppressed[idx] = mag[idx]
			}
		}
	}

	// scale thresholds from 8-bit convention (0-255 gradient magnitude)
	// to normalized [0,1] pixel units to match blurred/convolved input.
	lowN := low / 255.0 * 4
	highN := high / 255.0 * 4

	strong := make([]bool, rows*cols)
	weak := make([]bool, rows*cols)
	for i, v := range suppressed {
		if v >= highN {
			strong[i] = true
		} else if v >= lowN {
			weak[i] = true
		}
	}

	*dst = NewMatWithSize(rows, cols)
	out := dst.DataFloat32()
	stack := make([]int, 0, rows*cols/4)
	for i, s := range strong {
		if s {
			out[i] = 1.0
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r, c := i/cols, i%cols
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				rr, cc := r+dr, c+dc
				if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
					continue
				}
				j := rr*cols + cc
				if weak[j] && out[j] == 0 {
					out[j] = 1.0
					stack = append(stack, j)
				}
			}
		}
	}
}

// sisThreshold computes an Otsu (between-class-variance-maximizing)
// threshold over a 256-bin histogram of src and writes the binary mask
// to dst, returning the chosen threshold in [0,1].
func sisThreshold(src Mat, dst *Mat) float64 {
	data := src.DataFloat32()
	n := len(data)
	var hist [256]int
	for _, v := range data {
		b := int(v * 255.0)
		if b < 0 {
			b = 0
		}
		if b > 255 {
			b = 255
		}
		hist[b]++
	}

	var total float64
	for i, c := range hist {
		total += float64(i) * float64(c)
	}

	var sumB, wB float64
	var best float64
	bestThresh := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(n) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (total - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			bestThresh = t
		}
	}

	threshNorm := float32(bestThresh) / 255.0
	*dst = NewMatWithSize(src.rows, src.cols)
	dd := dst.DataFloat32()
	for i, v := range data {
		if v > threshNorm {
			dd[i] = 1.0
		}
	}
	return float64(threshNorm)
}

// component is a connected blob's bounding box and pixel-area count.
type component struct {
	Bounds image.Rectangle
	Area   int
}

// connectedComponents labels 8-connected blobs of non-zero pixels in a
// binary mask via a two-pass union-find scan, generalizing the
// row-run-growth flood technique this project's detector previously
// used only for its wavelet structure map.
func connectedComponents(mask Mat) []component {
	rows, cols := mask.rows, mask.cols
	data := mask.DataFloat32()
	labels := make([]int, rows*cols)
	parent := []int{0}

	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	newLabel := func() int {
		parent = append(parent, len(parent))
		return len(parent) - 1
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			if data[idx] == 0 {
				continue
			}
			var neighborLabels []int
			for dr := -1; dr <= 0; dr++ {
				for dc := -1; dc <= 1; dc++ {
					if dr == 0 && dc >= 0 {
						continue
					}
					rr, cc := r+dr, c+dc
					if rr < 0 || cc < 0 || cc >= cols {
						continue
					}
					if l := labels[rr*cols+cc]; l != 0 {
						neighborLabels = append(neighborLabels, l)
					}
				}
			}
			if len(neighborLabels) == 0 {
				labels[idx] = newLabel()
			} else {
				min := neighborLabels[0]
				for _, l := range neighborLabels[1:] {
					if l < min {
						min = l
					}
				}
				labels[idx] = min
				for _, l := range neighborLabels {
					union(l, min)
				}
			}
		}
	}

	boxes := make(map[int]*component)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			if labels[idx] == 0 {
				continue
			}
			root := find(labels[idx])
			b, ok := boxes[root]
			if !ok {
				b = &component{Bounds: image.Rect(c, r, c+1, r+1)}
				boxes[root] = b
			}
			if c < b.Bounds.Min.X {
				b.Bounds.Min.X = c
			}
			if r < b.Bounds.Min.Y {
				b.Bounds.Min.Y = r
			}
			if c+1 > b.Bounds.Max.X {
				b.Bounds.Max.X = c + 1
			}
			if r+1 > b.Bounds.Max.Y {
				b.Bounds.Max.Y = r + 1
			}
			b.Area++
		}
	}

	out := make([]component, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, *b)
	}
	return out
}
