// Package config defines the run configuration of an acquisition: where the
// area of interest comes from, how it is tiled, which imagery is fetched and
// where patches are stored.
//
// The configuration is read from an HCL file and then overridden by command
// line flags. Credentials are kept out of the file with the env() function:
//
//	sentinel {
//	  client_id     = env("SH_CLIENT_ID")
//	  client_secret = env("SH_CLIENT_SECRET", "")
//	}
package config
