// Package platform owns the set of transport plugins that reach client
// devices.
//
// The Registry subscribes to every registered Platform's events, feeds
// observations into the identity engine, and routes outbound data to the
// transport holding a client's primary connection. Multi-platform
// operations (start, refresh) fan out concurrently and report through the
// progress bus with one sub-channel per platform.
package platform
