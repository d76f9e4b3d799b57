package version

// Build information, overridden with -ldflags "-X ..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
