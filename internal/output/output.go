package output

import "github.com/shaunagostinho/luminox-dash/internal/luminox"

// Output receives every completed reading, valid or not.
type Output interface {
	Publish(luminox.Reading) error
	Close() error
}
