package reports

import "time"

// Timer: отменяемый отложенный вызов.
type Timer interface {
	Stop() bool
}

// Clock отделяет менеджер от реального времени, чтобы тесты могли управлять таймерами.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock возвращает часы на основе пакета time.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
