package version

// EmptyValue is the value we use when running a version that wasn't compiled
// by `make`. This is helpful for telling when we're running in a unit test.
const EmptyValue = "set-by-make"

// Version is the latest tag on git for releases. It's set at build time with
// `-ldflags "-X github.com/sidkik/mirrord/pkg/version.Version=..."`.
var Version = EmptyValue

// String returns a human readable version string.
func String() string {
	if Version == EmptyValue {
		return "development build"
	}
	return Version
}
