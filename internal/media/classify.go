package media

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"skillswap/native/internal/domain"
)

// Classify maps a capture failure onto the media error taxonomy.
func Classify(err error) domain.ErrorKind {
	switch {
	case err == nil:
		return domain.KindUnknown
	case errors.Is(err, domain.ErrMediaPermissionDenied),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM):
		return domain.KindMediaPermissionDenied
	case errors.Is(err, domain.ErrMediaDeviceNotFound),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENODEV):
		return domain.KindMediaDeviceNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return domain.KindMediaPermissionDenied
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "not found"), strings.Contains(msg, "no such device"):
		return domain.KindMediaDeviceNotFound
	}
	return domain.KindMediaUnknown
}
