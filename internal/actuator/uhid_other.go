//go:build !linux

package actuator

import (
	"errors"

	"go.uber.org/zap"
)

type Uhid struct{}

var _ Actuator = (*Uhid)(nil)

func NewUhid(log *zap.Logger, cfg UhidConfig, keys []string) (*Uhid, error) {
	if _, err := resolveKeys(keys); err != nil {
		return nil, err
	}
	return nil, errors.New("uhid actuator is only available on linux")
}

func (u *Uhid) Press(string)   {}
func (u *Uhid) Release(string) {}
func (u *Uhid) SetKeys(keys []string) error {
	_, err := resolveKeys(keys)
	return err
}
func (u *Uhid) Close() error   { return nil }
