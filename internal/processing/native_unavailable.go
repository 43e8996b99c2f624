//go:build !gocv

package processing

// LoadNative reports that this binary was built without the OpenCV routine.
// Build with -tags gocv to link it.
func LoadNative() (Processor, error) {
	return nil, ErrUnavailable
}
