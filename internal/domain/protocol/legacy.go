package protocol

// Tag is the (type, request) pair that identifies an app data event.
type Tag struct {
	Type    string
	Request string
}

// legacyData maps data tags used before the floor version to the current
// vocabulary.
var legacyData = map[Tag]Tag{
	{Type: "toClient"}:                     {Type: "send", Request: "client"},
	{Type: "add", Request: "setting"}:      {Type: "set", Request: "settings"},
	{Type: "open"}:                         {Type: "open", Request: "url"},
	{Type: "action", Request: "add"}:       {Type: "action", Request: "register"},
	{Type: "action", Request: "remove"}:    {Type: "action", Request: "unregister"},
	{Type: "button", Request: "add"}:       {Type: "key", Request: "register"},
	{Type: "button", Request: "remove"}:    {Type: "key", Request: "unregister"},
	{Type: "get", Request: "data"}:         {Type: "get", Request: "appData"},
	{Type: "set", Request: "data"}:         {Type: "set", Request: "appData"},
	{Type: "get", Request: "config"}:       {Type: "get", Request: "appData"},
	{Type: "send", Request: "toClient"}:    {Type: "send", Request: "client"},
	{Type: "request", Request: "settings"}: {Type: "get", Request: "settings"},
}

// legacyEnvelope maps envelope types used before the floor version.
var legacyEnvelope = map[string]string{
	"log":     TypeServerLog,
	"error":   TypeServerError,
	"message": TypeData,
	"ready":   TypeStarted,
	"exit":    TypeStopped,
}

// TranslateLegacy maps an old data tag to the current vocabulary. A tag
// with no entry is returned unchanged. A type-only entry matches any
// request that has no exact entry.
func TranslateLegacy(t Tag) Tag {
	if out, ok := legacyData[t]; ok {
		return out
	}
	if out, ok := legacyData[Tag{Type: t.Type}]; ok && t.Request != "" {
		if out.Request == "" {
			out.Request = t.Request
		}
		return out
	}
	return t
}

// TranslateLegacyEnvelope maps an old envelope type to the current one.
func TranslateLegacyEnvelope(kind string) string {
	if out, ok := legacyEnvelope[kind]; ok {
		return out
	}
	return kind
}
