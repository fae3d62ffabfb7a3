// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import "errors"

var (
	// ErrInvalidArgument indicates an argument that is never legal,
	// such as an unaligned or out of bounds virtual address.
	ErrInvalidArgument = errors.New("mm: invalid argument")

	// ErrBadAddress indicates a user supplied pointer or string that
	// failed validation. The syscall layer reports it to the user
	// without destabilizing the kernel.
	ErrBadAddress = errors.New("mm: bad address")

	// ErrAlreadyMapped indicates an attempt to map over a valid leaf.
	// Callers must unmap before remapping; silently replacing the leaf
	// would leak its backing page.
	ErrAlreadyMapped = errors.New("mm: address already mapped")
)
