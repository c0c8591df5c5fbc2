package xdata

import "runtime"

type config struct {
	workers  int
	xdataRVA uint32
}

func defaultConfig() config {
	return config{workers: runtime.GOMAXPROCS(0)}
}

// Option configures Build.
type Option func(*config)

// WithWorkers bounds the number of functions encoded concurrently.
// Values below 1 select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithXDataRVA sets the relative virtual address of the .xdata section,
// used to compute UnwindInfoAddress in .pdata entries.
func WithXDataRVA(rva uint32) Option {
	return func(c *config) {
		c.xdataRVA = rva
	}
}
