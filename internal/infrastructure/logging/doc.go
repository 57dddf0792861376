// Package logging wraps zap with the runtime's logger naming.
//
// Production builds write JSON; development builds write a colored
// console format at debug level.
//
// Subsystems take a child from Component ("registry", "websocket", ...).
// App output and the app's own log messages go to ForApp, named
// "app.<name>", so a noisy app can be filtered out by logger name.
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	logger.ForApp("weather").Warn(line, zap.String("stream", "stderr"))
package logging
