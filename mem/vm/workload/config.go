// Package workload drives address spaces with random memory traffic and
// checks that every load returns the last value stored, no matter how often
// the pages moved between frames, swap and files in between.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes a workload and the system it runs on.
type Config struct {
	Seed             int64   `yaml:"seed"`
	Log2PageSize     uint64  `yaml:"log2_page_size"`
	NumFrames        int     `yaml:"num_frames"`
	NumSwapSlots     uint32  `yaml:"num_swap_slots"`
	StackLimit       uint64  `yaml:"stack_limit"`
	StackValidMargin uint64  `yaml:"stack_valid_margin"`
	Processes        int     `yaml:"processes"`
	AnonPages        int     `yaml:"anon_pages"`
	FilePages        int     `yaml:"file_pages"`
	Accesses         int     `yaml:"accesses"`
	WriteRatio       float64 `yaml:"write_ratio"`
	Pushes           int     `yaml:"pushes"`
	Fork             bool    `yaml:"fork"`
}

// DefaultConfig returns a small workload that overcommits the frame pool
// several times.
func DefaultConfig() Config {
	return Config{
		Seed:         1,
		Log2PageSize: 12,
		NumFrames:    32,
		NumSwapSlots: 1024,
		StackLimit:   1 << 20,
		Processes:    4,
		AnonPages:    32,
		FilePages:    16,
		Accesses:     2000,
		WriteRatio:   0.5,
		Pushes:       1024,
		Fork:         true,
	}
}

// LoadConfig reads a YAML file on top of the default configuration. Unknown
// keys are rejected.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("parsing workload %s: %w", path, err)
	}

	return c, c.Validate()
}

// PageSize returns the number of bytes in a page.
func (c Config) PageSize() uint64 {
	return 1 << c.Log2PageSize
}

func (c Config) stackPages() int {
	return int(uint64(c.Pushes)*pushSize/c.PageSize()) + 2
}

func (c Config) numAddressSpaces() int {
	if c.Fork {
		return 2 * c.Processes
	}

	return c.Processes
}

// Validate reports the settings that cannot work together.
func (c Config) Validate() error {
	var errs []error

	if c.Log2PageSize < 6 || c.Log2PageSize > 21 {
		errs = append(errs, fmt.Errorf("log2_page_size %d out of [6, 21]",
			c.Log2PageSize))
	}

	if c.Processes <= 0 {
		errs = append(errs, errors.New("processes must be positive"))
	}

	if c.AnonPages < 0 || c.FilePages < 0 || c.AnonPages+c.FilePages == 0 {
		errs = append(errs, errors.New("a process needs at least one page"))
	}

	if c.Accesses < 0 || c.Pushes < 0 {
		errs = append(errs, errors.New("accesses and pushes must not be negative"))
	}

	if c.WriteRatio < 0 || c.WriteRatio > 1 {
		errs = append(errs, fmt.Errorf("write_ratio %g out of [0, 1]",
			c.WriteRatio))
	}

	if c.NumFrames < 2*c.numAddressSpaces() {
		errs = append(errs, fmt.Errorf(
			"num_frames %d must be at least two per address space (%d)",
			c.NumFrames, 2*c.numAddressSpaces()))
	}

	swapNeeded := c.numAddressSpaces() * (c.AnonPages + c.stackPages())
	if int(c.NumSwapSlots) < swapNeeded {
		errs = append(errs, fmt.Errorf(
			"num_swap_slots %d cannot hold %d anonymous pages",
			c.NumSwapSlots, swapNeeded))
	}

	if c.StackValidMargin != 0 && c.StackValidMargin < pushSize {
		errs = append(errs, fmt.Errorf(
			"stack_valid_margin %d is smaller than a push", c.StackValidMargin))
	}

	if c.StackLimit&(c.PageSize()-1) != 0 {
		errs = append(errs, fmt.Errorf(
			"stack_limit 0x%x is not a multiple of the page size", c.StackLimit))
	}

	if uint64(c.stackPages())*c.PageSize() > c.StackLimit {
		errs = append(errs, fmt.Errorf(
			"stack_limit 0x%x is too small for %d pushes",
			c.StackLimit, c.Pushes))
	}

	return errors.Join(errs...)
}
