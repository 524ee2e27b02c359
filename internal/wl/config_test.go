package wl

import "testing"

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestConfig_FreeMaxDiff_IsTwiceThreshold(t *testing.T) {
	c := Config{Threshold: 4096}

	if got, want := c.FreeMaxDiff(), uint64(8192); got != want {
		t.Fatalf("FreeMaxDiff() = %d, want %d", got, want)
	}
}

func TestConfig_Validate_RejectsEachInvalidField(t *testing.T) {
	testCases := []struct {
		name string
		cfg  func(Config) Config
	}{
		{"ProtQueueLenZero", func(c Config) Config { c.ProtQueueLen = 0; return c }},
		{"ProtQueueLenNegative", func(c Config) Config { c.ProtQueueLen = -1; return c }},
		{"MaxECZero", func(c Config) Config { c.MaxEC = 0; return c }},
		{"LebsPerCPEBZero", func(c Config) Config { c.LebsPerCPEB = 0; return c }},
		{"MaxErroneousNegative", func(c Config) Config { c.MaxErroneous = -1; return c }},
		{"WorkMaxFailuresZero", func(c Config) Config { c.WorkMaxFailures = 0; return c }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg(DefaultConfig())

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil for %+v, want an error", cfg)
			}
		})
	}
}

func TestConfig_HasAnchor(t *testing.T) {
	testCases := []struct {
		name     string
		lo, hi   int32
		wantHave bool
	}{
		{"DefaultDisabled", -1, -1, false},
		{"HiBelowLo", 10, 5, false},
		{"ValidRange", 5, 10, true},
		{"SingleSlot", 3, 3, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{AnchorLo: tc.lo, AnchorHi: tc.hi}

			if got, want := c.hasAnchor(), tc.wantHave; got != want {
				t.Fatalf("hasAnchor() = %v, want %v for lo=%d hi=%d", got, want, tc.lo, tc.hi)
			}
		})
	}
}
