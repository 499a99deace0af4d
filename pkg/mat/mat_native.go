//go:build !purego && !js

package mat

import (
	"image"

	"gocv.io/x/gocv"
)

// Mat wraps gocv.Mat for the native OpenCV-accelerated backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat { return Mat{m: gocv.NewMat()} }
func NewMatWithSize(rows, cols int) Mat {
	return Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)}
}
func (mat Mat) Rows() int                    { return mat.m.Rows() }
func (mat Mat) Cols() int                    { return mat.m.Cols() }
func (mat Mat) Empty() bool                  { return mat.m.Empty() }
func (mat Mat) Clone() Mat                   { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()                      { mat.m.Close() }
func (mat Mat) Region(r image.Rectangle) Mat { return Mat{m: mat.m.Region(r)} }

func (mat Mat) DataFloat32() []float32 {
	data, _ := mat.m.DataPtrFloat32()
	return data
}

func (mat *Mat) SetToZero() {
	mat.m.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

func CopyMatTo(src Mat, dst *Mat) {
	src.m.CopyTo(&dst.m)
}

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	gocv.SepFilter2D(src.m, &dst.m, gocv.MatTypeCV32F, kernelX.m, kernelY.m, image.Pt(-1, -1), 0, gocv.BorderReflect)
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	return Mat{m: gocv.GetGaussianKernel(size, sigma)}
}

func medianBlur(src Mat, dst *Mat, ksize int) {
	gocv.MedianBlur(src.m, &dst.m, ksize)
}

func absDiff(a, b Mat, dst *Mat) {
	gocv.AbsDiff(a.m, b.m, &dst.m)
}

func thresholdBinary(src Mat, dst *Mat, thresh, maxval float32) {
	gocv.Threshold(src.m, &dst.m, thresh, maxval, gocv.ThresholdBinary)
}

func countNonZero(src Mat) int {
	return gocv.CountNonZero(src.m)
}

func morphDilateEllipse(src Mat, dst *Mat, kernelSize, iterations int) {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()
	gocv.MorphologyExWithParams(src.m, &dst.m, gocv.MorphDilate, kernel, iterations, gocv.BorderReflect)
}

func dilateSquare(src Mat, dst *Mat, kernelSize, iterations int) {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()
	gocv.MorphologyExWithParams(src.m, &dst.m, gocv.MorphDilate, kernel, iterations, gocv.BorderReflect)
}

func inRangeScalar(src Mat, lower, upper float32, dst *Mat) {
	lo := gocv.NewMatFromScalar(gocv.NewScalar(float64(lower), 0, 0, 0), gocv.MatTypeCV32F)
	defer lo.Close()
	hi := gocv.NewMatFromScalar(gocv.NewScalar(float64(upper), 0, 0, 0), gocv.MatTypeCV32F)
	defer hi.Close()
	mask8 := gocv.NewMat()
	defer mask8.Close()
	gocv.InRange(src.m, lo, hi, &mask8)
	mask8.ConvertTo(&dst.m, gocv.MatTypeCV32F)
}

func matMeanStdDev(src Mat) (float64, float64) {
	meanMat := gocv.NewMat()
	defer meanMat.Close()
	stdMat := gocv.NewMat()
	defer stdMat.Close()
	gocv.MeanStdDev(src.m, &meanMat, &stdMat)
	return meanMat.GetDoubleAt(0, 0), stdMat.GetDoubleAt(0, 0)
}

func matCopyToWithMask(src Mat, dst *Mat, mask Mat) {
	mask8 := gocv.NewMat()
	defer mask8.Close()
	mask.m.ConvertTo(&mask8, gocv.MatTypeCV8U)
	src.m.CopyToWithMask(&dst.m, mask8)
}

func imWriteMat(path string, m Mat) {
	gocv.IMWrite(path, m.m)
}

func imReadMat(path string) Mat {
	return Mat{m: gocv.IMRead(path, gocv.IMReadUnchanged)}
}

func matConvertToFloat(src Mat, dst *Mat) {
	src.m.ConvertTo(&dst.m, gocv.MatTypeCV32F)
}

// resizeCubic resizes src into dst by the given scale factor using
// bicubic interpolation.
func resizeCubic(src Mat, dst *Mat, scale float64) {
	newW := int(float64(src.Cols()) * scale)
	newH := int(float64(src.Rows()) * scale)
	gocv.Resize(src.m, &dst.m, image.Pt(newW, newH), 0, 0, gocv.InterpolationCubic)
}

// canny runs Canny edge detection; if blurFirst, a 5x5 Gaussian blur
// (sigma derived from kernel size, matching ConvolveGaussian) is
// applied before the edge response.
func canny(src Mat, dst *Mat, low, high float32, blurFirst bool) {
	input := src
	var blurred Mat
	if blurFirst {
		blurred = NewMatWithSize(src.Rows(), src.Cols())
		ConvolveGaussian(&src, &blurred, 5)
		input = blurred
		defer blurred.Close()
	}
	u8 := gocv.NewMat()
	defer u8.Close()
	input.m.ConvertTo(&u8, gocv.MatTypeCV8U, 255.0, 0)
	edges8 := gocv.NewMat()
	defer edges8.Close()
	gocv.Canny(u8, &edges8, low, high)
	edges8.ConvertTo(&dst.m, gocv.MatTypeCV32F, 1.0/255.0, 0)
}

// sisThreshold computes an Otsu (between-class-variance-maximizing)
// threshold over src and writes the binary mask to dst, returning the
// chosen threshold in [0,1].
func sisThreshold(src Mat, dst *Mat) float64 {
	u8 := gocv.NewMat()
	defer u8.Close()
	src.m.ConvertTo(&u8, gocv.MatTypeCV8U, 255.0, 0)
	out8 := gocv.NewMat()
	defer out8.Close()
	thresh := gocv.Threshold(u8, &out8, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	out8.ConvertTo(&dst.m, gocv.MatTypeCV32F, 1.0/255.0, 0)
	return thresh / 255.0
}

// connectedComponents returns the bounding box and pixel area of every
// 8-connected blob of non-zero pixels in a binary mask.
func connectedComponents(mask Mat) []component {
	u8 := gocv.NewMat()
	defer u8.Close()
	mask.m.ConvertTo(&u8, gocv.MatTypeCV8U, 255.0, 0)
	contours := gocv.FindContours(u8, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	out := make([]component, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		rect := gocv.BoundingRect(c)
		area := gocv.ContourArea(c)
		out = append(out, component{Bounds: rect, Area: int(area)})
	}
	return out
}
