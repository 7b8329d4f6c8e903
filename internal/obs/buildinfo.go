package obs

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unitask_build_info",
			Help: "Build metadata of the running marketplace binary.",
		},
		[]string{"version", "revision", "goversion"},
	)
)

// InitBuildInfo registers and stamps the build metadata gauge. The VCS
// revision and toolchain version are read from the embedded build info.
func InitBuildInfo(version string) {
	revision := "unknown"
	goversion := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		goversion = info.GoVersion
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				revision = setting.Value
			}
		}
	}

	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, revision, goversion).Set(1)
}
