package version

// Version is overridden at build time with -ldflags "-X siv/version.Version=...".
var Version = "dev"
