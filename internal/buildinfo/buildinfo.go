// Package buildinfo identifies the firmware in self-description documents.
package buildinfo

// Version is set at build time:
//
//	go build -ldflags "-X airsense/internal/buildinfo.Version=1.2.0"
var Version = "dev"

const (
	Name      = "Air Quality Sensor"
	ShortName = "AirSense"
	Maker     = "AirSense"
	GithubURL = "https://github.com/airsense/airsense"
)

// Firmware describes the running build.
type Firmware struct {
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Maker     string `json:"maker"`
	Version   string `json:"version"`
	GithubURL string `json:"githubUrl,omitempty"`
}

// Current returns the identity of this build.
func Current() Firmware {
	return Firmware{
		Name:      Name,
		ShortName: ShortName,
		Maker:     Maker,
		Version:   Version,
		GithubURL: GithubURL,
	}
}
