// Package log provides the logging abstraction used across upy.
//
// Components take a [Logger] and never import a logging library directly.
// The CLI wires in the zerolog adapter; tests use the no-op logger.
//
//	logger := log.NewZerologAdapter(zerolog.InfoLevel)
//	logger.Info("deployed", log.Cartridge("app_storefront"), log.Duration("took", d))
//
// Fields are typed so the zerolog adapter can emit them without reflection.
// [Cartridge], [Path] and [Op] give the keys that every sync log line shares
// a single spelling.
package log
