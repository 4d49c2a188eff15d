package radvd

import (
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/uradvd/internal/ramsg"
	"github.com/stretchr/testify/assert"
)

// testPrefixes returns n distinct valid /64 prefixes.
func testPrefixes(n int) (prefixes []ramsg.Prefix) {
	for i := range n {
		addr := netip.AddrFrom16([16]byte{0x20, 0x01, 0x0D, 0xB8, 0, byte(i + 1)})
		prefixes = append(prefixes, ramsg.Prefix{
			Prefix: netip.PrefixFrom(addr, 64),
			OnLink: true,
		})
	}

	return prefixes
}

// newTestConfig returns a valid configuration for tests.
func newTestConfig() (conf *Config) {
	return &Config{
		Logger:            slogutil.NewDiscardLogger(),
		IfName:            "eth0",
		Prefixes:          testPrefixes(1),
		ValidLifetime:     DefaultValidLifetime,
		PreferredLifetime: DefaultPreferredLifetime,
		MaxRtrAdvInterval: DefaultMaxRtrAdvInterval,
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name       string
		mutate     func(conf *Config)
		wantErrStr string
	}{{
		name:       "valid",
		mutate:     func(_ *Config) {},
		wantErrStr: "",
	}, {
		name: "max_prefixes",
		mutate: func(conf *Config) {
			conf.Prefixes = testPrefixes(MaxPrefixes)
		},
		wantErrStr: "",
	}, {
		name: "too_many_prefixes",
		mutate: func(conf *Config) {
			conf.Prefixes = testPrefixes(MaxPrefixes + 1)
		},
		wantErrStr: "at most 8 prefixes",
	}, {
		name: "no_prefixes",
		mutate: func(conf *Config) {
			conf.Prefixes = nil
		},
		wantErrStr: "Prefixes: empty value",
	}, {
		name: "host_bits_set",
		mutate: func(conf *Config) {
			conf.Prefixes = []ramsg.Prefix{{
				Prefix: netip.PrefixFrom(netip.MustParseAddr("2001:db8::1"), 64),
			}}
		},
		wantErrStr: "non-zero bits",
	}, {
		name: "wrong_length",
		mutate: func(conf *Config) {
			conf.Prefixes = []ramsg.Prefix{{
				Prefix: netip.MustParsePrefix("2001:db8::/48"),
			}}
		},
		wantErrStr: "must have length 64",
	}, {
		name: "ipv4_prefix",
		mutate: func(conf *Config) {
			conf.Prefixes = []ramsg.Prefix{{
				Prefix: netip.MustParsePrefix("192.0.2.0/24"),
			}}
		},
		wantErrStr: "not an ipv6 prefix",
	}, {
		name: "max_rdnss",
		mutate: func(conf *Config) {
			conf.RDNSS = []netip.Addr{
				netip.MustParseAddr("2001:4860:4860::8888"),
				netip.MustParseAddr("2001:4860:4860::8844"),
				netip.MustParseAddr("2001:db8::53"),
			}
		},
		wantErrStr: "",
	}, {
		name: "too_many_rdnss",
		mutate: func(conf *Config) {
			conf.RDNSS = []netip.Addr{
				netip.MustParseAddr("2001:db8::1"),
				netip.MustParseAddr("2001:db8::2"),
				netip.MustParseAddr("2001:db8::3"),
				netip.MustParseAddr("2001:db8::4"),
			}
		},
		wantErrStr: "at most 3 servers",
	}, {
		name: "ipv4_rdnss",
		mutate: func(conf *Config) {
			conf.RDNSS = []netip.Addr{netip.MustParseAddr("192.0.2.53")}
		},
		wantErrStr: "not a valid ipv6 address",
	}, {
		name: "no_ifname",
		mutate: func(conf *Config) {
			conf.IfName = ""
		},
		wantErrStr: "IfName: empty value",
	}, {
		name: "long_ifname",
		mutate: func(conf *Config) {
			conf.IfName = "averylonginterfacename"
		},
		wantErrStr: "too long",
	}, {
		name: "preferred_exceeds_valid",
		mutate: func(conf *Config) {
			conf.ValidLifetime = 100
			conf.PreferredLifetime = 101
		},
		wantErrStr: "must not exceed valid lifetime",
	}, {
		name: "interval_too_small",
		mutate: func(conf *Config) {
			conf.MaxRtrAdvInterval = 2 * time.Second
		},
		wantErrStr: "outside of",
	}, {
		name: "interval_too_large",
		mutate: func(conf *Config) {
			conf.MaxRtrAdvInterval = 2000 * time.Second
		},
		wantErrStr: "outside of",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := newTestConfig()
			tc.mutate(conf)

			err := conf.Validate()
			if tc.wantErrStr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErrStr)
			}
		})
	}
}

func TestConfig_Validate_nil(t *testing.T) {
	var conf *Config
	assert.Error(t, conf.Validate())
}

func TestConfig_MinRtrAdvInterval(t *testing.T) {
	conf := newTestConfig()
	assert.Equal(t, 200*time.Second, conf.MinRtrAdvInterval())

	conf.MaxRtrAdvInterval = 6 * time.Second
	assert.Equal(t, 3*time.Second, conf.MinRtrAdvInterval())

	conf.MaxRtrAdvInterval = 4 * time.Second
	assert.Equal(t, 3*time.Second, conf.MinRtrAdvInterval())
}
