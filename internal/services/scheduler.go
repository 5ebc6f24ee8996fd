package services

import "time"

// Timer is a pending delayed call
type Timer interface {
	Stop() bool
}

// Scheduler runs delayed calls
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler runs delayed calls on the runtime timers
var SystemScheduler Scheduler = systemScheduler{}
