package progress

import "github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"

// Updater is bound to one channel of a Bus.
type Updater struct {
	bus     *Bus
	channel types.ProgressChannel
}

// Channel returns the bound channel.
func (u *Updater) Channel() types.ProgressChannel { return u.channel }

func (u *Updater) Update(progress float64, message string) {
	u.bus.Update(u.channel, progress, message)
}

func (u *Updater) Increment(delta float64, message string) {
	u.bus.IncrementProgress(u.channel, delta, message)
}

func (u *Updater) Complete(message string) { u.bus.Complete(u.channel, message) }

func (u *Updater) Error(err error, message string) { u.bus.Error(u.channel, err, message) }

func (u *Updater) Warn(message string) { u.bus.Warn(u.channel, message) }

func (u *Updater) Info(message string) { u.bus.Info(u.channel, message) }
