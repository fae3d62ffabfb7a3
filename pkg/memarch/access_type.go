// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package memarch

// AccessType specifies the access rights of a mapping: the R/W/X
// permission bits plus the user and global attributes.
type AccessType struct {
	// Read is read access.
	Read bool

	// Write is write access.
	Write bool

	// Execute is execute access.
	Execute bool

	// User makes the mapping accessible from user mode.
	User bool

	// Global marks the mapping as shared by all address spaces. Global
	// mappings survive address space resets.
	Global bool
}

// String implements fmt.Stringer.
func (a AccessType) String() string {
	bits := [5]byte{'-', '-', '-', '-', '-'}
	if a.Read {
		bits[0] = 'r'
	}
	if a.Write {
		bits[1] = 'w'
	}
	if a.Execute {
		bits[2] = 'x'
	}
	if a.User {
		bits[3] = 'u'
	}
	if a.Global {
		bits[4] = 'g'
	}
	return string(bits[:])
}

// Any returns true if any access may be performed.
func (a AccessType) Any() bool {
	return a.Read || a.Write || a.Execute
}

// SupersetOf returns true if the access rights in a are sufficient to
// perform every access in other. The global attribute is not a right
// and is ignored.
func (a AccessType) SupersetOf(other AccessType) bool {
	if !a.Read && other.Read {
		return false
	}
	if !a.Write && other.Write {
		return false
	}
	if !a.Execute && other.Execute {
		return false
	}
	if !a.User && other.User {
		return false
	}
	return true
}

// Union returns the union of rights in a and other.
func (a AccessType) Union(other AccessType) AccessType {
	return AccessType{
		Read:    a.Read || other.Read,
		Write:   a.Write || other.Write,
		Execute: a.Execute || other.Execute,
		User:    a.User || other.User,
		Global:  a.Global || other.Global,
	}
}

// Convenient access types.
var (
	NoAccess      = AccessType{}
	Read          = AccessType{Read: true}
	ReadWrite     = AccessType{Read: true, Write: true}
	ReadExecute   = AccessType{Read: true, Execute: true}
	UserRead      = AccessType{Read: true, User: true}
	UserWrite     = AccessType{Write: true, User: true}
	UserReadWrite = AccessType{Read: true, Write: true, User: true}
)
