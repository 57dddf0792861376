package types

// ProgressChannel names a progress endpoint. Subsystems report only through
// the channels declared here.
type ProgressChannel string

const (
	ChannelAppInstall      ProgressChannel = "app:install"
	ChannelAppDownload     ProgressChannel = "app:download"
	ChannelAppExtract      ProgressChannel = "app:extract"
	ChannelAppStart        ProgressChannel = "app:start"
	ChannelAppPurge        ProgressChannel = "app:purge"
	ChannelClientInstall   ProgressChannel = "client:install"
	ChannelClientFlash     ProgressChannel = "client:flash"
	ChannelPlatformStart   ProgressChannel = "platform:start"
	ChannelPlatformRefresh ProgressChannel = "platform:refresh"
	ChannelReleaseRefresh  ProgressChannel = "release:refresh"
	ChannelServerStart     ProgressChannel = "server:start"
)

// PlatformChannel returns the per-platform sub-channel of parent.
func PlatformChannel(parent ProgressChannel, p PlatformID) ProgressChannel {
	return parent + ProgressChannel(":"+string(p))
}

// ProgressStatus is the state of a channel's most recent report.
type ProgressStatus string

const (
	StatusRunning  ProgressStatus = "running"
	StatusInfo     ProgressStatus = "info"
	StatusWarn     ProgressStatus = "warn"
	StatusComplete ProgressStatus = "complete"
	StatusError    ProgressStatus = "error"
)

// Terminal reports whether s ends a channel.
func (s ProgressStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ProgressEvent is one report on a channel.
type ProgressEvent struct {
	Channel   ProgressChannel `json:"channel"`
	Operation string          `json:"operation"`
	Message   string          `json:"message"`
	Status    ProgressStatus  `json:"status"`
	Progress  float64         `json:"progress"`
	Error     string          `json:"error,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}
