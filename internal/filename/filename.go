// Package filename implements the tag/filename policy: which
// context may read or write a given tag, and the path-builder helpers
// that assemble tags in their canonical layout.
package filename

// Kind is the first byte of every tag.
type Kind byte

const (
	PkgList     Kind = 0
	Cap         Kind = 1
	Static      Kind = 2
	AppletField Kind = 3
)

// MaxTagLen bounds the 33-byte `[taglen:u8][bytes]` wire buffer used to
// pass tags across the syscall boundary: taglen < 32.
const MaxTagLen = 32

// InstallerContext is the one context permitted to manage the package
// list and capability entries. Fixed by board configuration — context
// 2 is wired with installer privileges.
const InstallerContext = 2

// CanRead reports whether ctx may read the file named tag.
func CanRead(ctx int, tag []byte) bool {
	if len(tag) == 0 {
		return false
	}
	if Kind(tag[0]) == AppletField {
		return len(tag) >= 2 && int(tag[1]) == ctx
	}
	return true
}

// CanWrite reports whether ctx may write the file named tag.
func CanWrite(ctx int, tag []byte) bool {
	if len(tag) == 0 {
		return false
	}
	switch Kind(tag[0]) {
	case PkgList:
		return ctx == InstallerContext && len(tag) == 1
	case Cap:
		return ctx == InstallerContext && len(tag) == 2
	case Static:
		return len(tag) == 3
	case AppletField:
		return len(tag) == 5 && int(tag[1]) == ctx
	default:
		return false
	}
}

// IsApplet reports whether tag names an applet (a Cap file).
func IsApplet(tag []byte) bool {
	return len(tag) == 2 && Kind(tag[0]) == Cap
}

// PackageList returns the single tag naming the package list, and its
// length. Every path builder in this file returns (tag, taglen) rather
// than an out-param; taglen is always len(tag) here, carried as a
// separate result only to keep the same shape as the syscall-boundary
// tag wire format, which pairs a tag with an explicit length.
func PackageList() ([]byte, int) {
	tag := []byte{byte(PkgList)}
	return tag, len(tag)
}

// CapFor returns the Cap tag for package pkg, and its length.
func CapFor(pkg byte) ([]byte, int) {
	tag := []byte{byte(Cap), pkg}
	return tag, len(tag)
}

// StaticField returns the Static tag for (pkg, staticID), and its
// length.
func StaticField(pkg, staticID byte) ([]byte, int) {
	tag := []byte{byte(Static), pkg, staticID}
	return tag, len(tag)
}

// AppletFieldTag returns the AppletField tag for
// (owning context, pkg, class, field), and its length.
func AppletFieldTag(ctx, pkg, class, field byte) ([]byte, int) {
	tag := []byte{byte(AppletField), ctx, pkg, class, field}
	return tag, len(tag)
}
