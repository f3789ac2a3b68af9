// Package upy syncs cartridge directories to a content server's WebDAV
// endpoint.
//
// A run discovers every cartridge under a working directory, uploads each
// one as a zip archive that the server unpacks in place, then watches the
// cartridges and mirrors every later change file by file.
//
// Example usage:
//
//	s, err := upy.New(upy.Config{
//	    WorkDir:  ".",
//	    Hostname: "dev01.example.com",
//	    Username: "alice",
//	    Password: os.Getenv("UPY_PASSWORD"),
//	    Version:  "version1",
//	}, upy.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Modes
//
// Config.Upload and Config.Watch select the phases to run. Setting neither
// runs both. An upload-only run returns once every cartridge is deployed or
// has failed; a watching run returns when its context is canceled.
//
// # Failures
//
// Failures are confined to the smallest unit they affect: a file, a
// cartridge or a single change event. Only discovery of the working
// directory, preparing the output directory and invalid configuration end
// a run early.
package upy
