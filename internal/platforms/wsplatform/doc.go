// Package wsplatform is the network transport. Devices dial the platform's
// websocket endpoint, introduce themselves with a hello frame and then
// exchange data frames with the apps.
//
// Frames are JSON text messages:
//
//	{"type":"hello","deviceId":"d1","serial":"SN1","capabilities":[1,3]}
//	{"type":"data","app":"weather","dataType":"get","request":"forecast","payload":{}}
//	{"type":"ping"}
//
// The host sends "data", "update", "refresh" and "pong" frames back.
package wsplatform
