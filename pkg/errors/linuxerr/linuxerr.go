// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/xlate/pkg/errors"
)

// maxErrno is the largest errno a syscall return value can encode. Linux
// reserves the top 4095 values of the return register for errors.
const maxErrno = 4095

// The following errors are semantically identical to Errno of type unix.Errno
// or sycall.Errno. However, since the type are distinct ( these are
// *errors.Error), they are not directly comperable. However, the Errno method
// returns an Errno number such that the error can be compared to unix/syscall.Errno
// (e.g. unix.Errno(EPERM.Errno()) == unix.EPERM is true). Converting unix/syscall.Errno
// to the errors should be done via the lookup methods provided.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                = errors.New(unix.ENOENT, "no such file or directory")
	ESRCH                 = errors.New(unix.ESRCH, "no such process")
	EINTR                 = errors.New(unix.EINTR, "interrupted system call")
	EIO                   = errors.New(unix.EIO, "I/O error")
	ENXIO                 = errors.New(unix.ENXIO, "no such device or address")
	E2BIG                 = errors.New(unix.E2BIG, "argument list too long")
	ENOEXEC               = errors.New(unix.ENOEXEC, "exec format error")
	EBADF                 = errors.New(unix.EBADF, "bad file number")
	ECHILD                = errors.New(unix.ECHILD, "no child processes")
	EAGAIN                = errors.New(unix.EAGAIN, "try again")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EACCES                = errors.New(unix.EACCES, "permission denied")
	EFAULT                = errors.New(unix.EFAULT, "bad address")
	ENOTBLK               = errors.New(unix.ENOTBLK, "block device required")
	EBUSY                 = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST                = errors.New(unix.EEXIST, "file exists")
	EXDEV                 = errors.New(unix.EXDEV, "cross-device link")
	ENODEV                = errors.New(unix.ENODEV, "no such device")
	ENOTDIR               = errors.New(unix.ENOTDIR, "not a directory")
	EISDIR                = errors.New(unix.EISDIR, "is a directory")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
	ENFILE                = errors.New(unix.ENFILE, "file table overflow")
	EMFILE                = errors.New(unix.EMFILE, "too many open files")
	ENOTTY                = errors.New(unix.ENOTTY, "not a typewriter")
	ETXTBSY               = errors.New(unix.ETXTBSY, "text file busy")
	EFBIG                 = errors.New(unix.EFBIG, "file too large")
	ENOSPC                = errors.New(unix.ENOSPC, "no space left on device")
	ESPIPE                = errors.New(unix.ESPIPE, "illegal seek")
	EROFS                 = errors.New(unix.EROFS, "read-only file system")
	EMLINK                = errors.New(unix.EMLINK, "too many links")
	EPIPE                 = errors.New(unix.EPIPE, "broken pipe")
	EDOM                  = errors.New(unix.EDOM, "math argument out of domain of func")
	ERANGE                = errors.New(unix.ERANGE, "math result not representable")

	// Errno values from include/uapi/asm-generic/errno.h.
	EDEADLK    = errors.New(unix.EDEADLK, "resource deadlock would occur")
	ENOSYS     = errors.New(unix.ENOSYS, "invalid system call number")
	EIDRM      = errors.New(unix.EIDRM, "identifier removed")
	EOVERFLOW  = errors.New(unix.EOVERFLOW, "value too large for defined data type")
	EOPNOTSUPP = errors.New(unix.EOPNOTSUPP, "operation not supported on transport endpoint")
	ETIMEDOUT  = errors.New(unix.ETIMEDOUT, "connection timed out")
	ECANCELED  = errors.New(unix.ECANCELED, "operation Canceled")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
	EDEADLOCK   = EDEADLK
	ENOTSUP     = EOPNOTSUPP
)

// errorTable holds errors by errno for fast translation between errnos
// (especially uint32(sycall.Errno)) and *errors.Error.
var errorTable = func() map[unix.Errno]*errors.Error {
	m := make(map[unix.Errno]*errors.Error)
	for _, e := range []*errors.Error{
		EPERM, ENOENT, ESRCH, EINTR, EIO, ENXIO, E2BIG, ENOEXEC, EBADF,
		ECHILD, EAGAIN, ENOMEM, EACCES, EFAULT, ENOTBLK, EBUSY, EEXIST,
		EXDEV, ENODEV, ENOTDIR, EISDIR, EINVAL, ENFILE, EMFILE, ENOTTY,
		ETXTBSY, EFBIG, ENOSPC, ESPIPE, EROFS, EMLINK, EPIPE, EDOM, ERANGE,
		EDEADLK, ENOSYS, EIDRM, EOVERFLOW, EOPNOTSUPP, ETIMEDOUT, ECANCELED,
	} {
		m[e.Errno()] = e
	}
	return m
}()

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// predeclared value get a fresh *errors.Error carrying the host's message.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorTable[err]; ok {
		return e
	}
	if err > maxErrno {
		panic("invalid error requested with errno: " + err.Error())
	}
	return errors.New(err, err.Error())
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	if other, ok := err.(*errors.Error); ok && other != noError && e != noError {
		return other.Errno() == e.Errno()
	}
	return e == err || unixErr == err
}

// ErrnoOf extracts the errno carried by err. It understands *errors.Error,
// unix.Errno and anything wrapping them; other errors map to EINVAL.
func ErrnoOf(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var le *errors.Error
	if goerrors.As(err, &le) && le != nil {
		return le.Errno()
	}
	var ue unix.Errno
	if goerrors.As(err, &ue) {
		return ue
	}
	return unix.EINVAL
}

// ToSyscallReturn encodes val and err using the kernel return convention:
// the value on success, or the negated errno on failure.
func ToSyscallReturn(val uint64, err error) uint64 {
	if err != nil {
		return -uint64(ErrnoOf(err))
	}
	return val
}

// IsSyscallError reports whether a raw syscall return value encodes an
// errno.
func IsSyscallError(rv uint64) bool {
	return rv > ^uint64(maxErrno)
}

// FromSyscallReturn decodes a raw syscall return value into a value and an
// error.
func FromSyscallReturn(rv uint64) (uint64, error) {
	if IsSyscallError(rv) {
		return 0, ErrorFromUnix(unix.Errno(-rv))
	}
	return rv, nil
}
