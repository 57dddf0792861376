// Package http serves the control API the desktop UI uses to manage apps,
// inspect clients and follow progress.
//
// Routes:
//
//	GET    /health
//	GET    /apps
//	POST   /apps/:name/{enable,disable,start,stop}
//	DELETE /apps/:name
//	POST   /apps/order
//	GET    /clients
//	PATCH  /clients/:id
//	POST   /clients/:id/send
//	GET    /platforms
//	POST   /platforms/refresh
//	GET    /progress
//	GET    /progress/:channel
package http
