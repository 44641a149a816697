package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// mapProvider feeds a nested map, such as the defaults, into koanf. Read
// returns a deep copy: koanf merges later sources into the maps it loaded,
// and the defaults must survive a reload unchanged.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("confloader: map provider has no byte form")
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Copy(m), nil
}
