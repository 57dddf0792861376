// Package ws serves the UI event stream. Each subscriber receives a JSON
// text frame per event:
//
//	{"type":"progress","data":{...ProgressEvent}}
//	{"type":"client","event":"connected","data":{...Client}}
//	{"type":"apps","data":[...App]}
//	{"type":"app:data","data":{...AppData}}
//
// A subscriber that falls behind by more than its buffer is disconnected
// rather than slowing the publishers.
package ws
