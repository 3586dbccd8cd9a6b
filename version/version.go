package version

// Version is the current version of the client. It is set at link time.
var Version = "dev"
