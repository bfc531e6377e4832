//go:build !linux && !darwin

package storage

func probeFilesystem(string) (string, error) {
	return "", errUnknownFilesystem
}
