// Package console hides the console window the process was started in.
package console

// Hide detaches the process from its visible console window. It reports
// whether a window was hidden; platforms without one return false, nil.
func Hide() (bool, error) {
	return hide()
}
