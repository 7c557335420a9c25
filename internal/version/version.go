package version

import (
	"runtime/debug"
	"strings"
	"time"
)

// buildVersion is set via -ldflags "-X pkt.systems/leasevol/internal/version.buildVersion=...".
var buildVersion = ""

// Current returns the best available version string: the linker-injected
// value, the module version from build info, or a VCS pseudo-version.
func Current() string {
	if strings.TrimSpace(buildVersion) != "" {
		return buildVersion
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
		if v := pseudoVersion(info); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

func pseudoVersion(info *debug.BuildInfo) string {
	var revision, vcsTime string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" || vcsTime == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + revision
	if modified {
		ver += "+dirty"
	}
	return ver
}
