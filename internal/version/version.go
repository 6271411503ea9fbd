// Package version compares the "major.minor" versions stamped on books by
// their generator and on catalog records by the harvester.
package version

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Zero is used when no version can be determined.
const Zero = "0.0"

var generatorPattern = regexp.MustCompile(`(\d+)\.(\d+)`)

// Canonical normalizes v to "major.minor", returning Zero for anything that
// does not start with a number.
func Canonical(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	parts := strings.SplitN(v, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return Zero
	}
	minor := 0
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil || minor < 0 {
			minor = 0
		}
	}
	return strconv.Itoa(major) + "." + strconv.Itoa(minor)
}

// FromGenerator extracts the version from a generator tag such as
// "Bloom Version 5.4.102 (apparent build date: 10-Jan-2023)".
func FromGenerator(content string) string {
	m := generatorPattern.FindStringSubmatch(content)
	if m == nil {
		return Zero
	}
	return Canonical(m[1] + "." + m[2])
}

// Compare returns -1, 0 or +1 as a is older than, equal to or newer than b.
func Compare(a, b string) int {
	return semver.Compare(semverOf(a), semverOf(b))
}

// Major returns the major component of v.
func Major(v string) int {
	major, _ := strconv.Atoi(strings.TrimPrefix(semver.Major(semverOf(v)), "v"))
	return major
}

// AtLeast reports whether v >= min.
func AtLeast(v, min string) bool {
	return Compare(v, min) >= 0
}

func semverOf(v string) string {
	return "v" + Canonical(v)
}
