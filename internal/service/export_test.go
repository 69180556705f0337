package service

import (
	"context"
	"time"
)

func SetClock(c *Coordinator, now func() time.Time) {
	c.now = now
}

func SetSleep(c *Coordinator, sleep func(context.Context, time.Duration) error) {
	c.sleep = sleep
}
