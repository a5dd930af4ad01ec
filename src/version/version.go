package version

import (
	"fmt"
	"runtime"

	"github.com/stolostron/console-sub025/src/shell"
)

// Set at build time via -ldflags "-X github.com/stolostron/console-sub025/src/version.Ver=..."
var (
	Ver            = "dev"
	Branch         = "local"
	GitCommitHash  = "none"
	BuildTimestamp = "unknown"
)

type Version struct {
	Version        string `json:"version"`
	Branch         string `json:"branch"`
	GitCommitHash  string `json:"gitCommitHash"`
	BuildTimestamp string `json:"buildTimestamp"`
	Os             string `json:"os"`
	Arch           string `json:"arch"`
}

func NewVersion() *Version {
	return &Version{
		Version:        Ver,
		Branch:         Branch,
		GitCommitHash:  GitCommitHash,
		BuildTimestamp: BuildTimestamp,
		Os:             runtime.GOOS,
		Arch:           runtime.GOARCH,
	}
}

func (self *Version) String() string {
	versionInfo := ""
	versionInfo = versionInfo + fmt.Sprintf("OS:         %s\n", shell.Colorize(self.Os, shell.Yellow))
	versionInfo = versionInfo + fmt.Sprintf("Arch:       %s\n", shell.Colorize(self.Arch, shell.Yellow))
	versionInfo = versionInfo + fmt.Sprintf("Version:    %s\n", shell.Colorize(self.Version, shell.Yellow))
	versionInfo = versionInfo + fmt.Sprintf("Branch:     %s\n", shell.Colorize(self.Branch, shell.Yellow))
	versionInfo = versionInfo + fmt.Sprintf("Commit:     %s\n", shell.Colorize(self.GitCommitHash, shell.Yellow))
	versionInfo = versionInfo + fmt.Sprintf("Timestamp:  %s\n", shell.Colorize(self.BuildTimestamp, shell.Yellow))
	return versionInfo
}

func (self *Version) PrintVersionInfo() {
	fmt.Print(self.String())
}
