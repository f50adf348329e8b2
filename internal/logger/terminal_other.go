//go:build !linux && !darwin

package logger

// Colour output is only enabled where terminal detection is implemented.
func isTerminal(uintptr) bool {
	return false
}
