//go:build !windows

package console

func hide() (bool, error) {
	return false, nil
}
