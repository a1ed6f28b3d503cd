package version

// Version is the service release identifier, stamped into the FLAC
// vorbis vendor string and the health endpoint.
const Version = "1.2.0"
