package feature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/config"
)

var vext = &Definition{
	Name:       "vext",
	Categories: Setup | Target,
	Defaults:   config.Map{"vlen": 128},
	CacheFlags: func(f *Feature, flags map[string][]string) {
		flags["spike.exe"] = append(flags["spike.exe"], "vext")
	},
}

var debug = &Definition{Name: "debug", Categories: Compile}

func TestCategory(t *testing.T) {
	c := Setup | Target
	assert.True(t, c.Has(Setup))
	assert.True(t, c.Has(Setup|Target))
	assert.False(t, c.Has(Backend))
	assert.Equal(t, "setup|target", c.String())
}

func TestNew_FiltersOwnConfig(t *testing.T) {
	f, err := New(context.Background(), vext, config.Map{"vext.vlen": "256", "spike.vlen": "64"})
	require.NoError(t, err)

	assert.Equal(t, "vext", f.Name())
	assert.Equal(t, config.Map{"vlen": "256"}, f.Config)
}

func TestMatchingAndCacheFlags(t *testing.T) {
	ctx := context.Background()
	v, err := New(ctx, vext, nil)
	require.NoError(t, err)
	d, err := New(ctx, debug, nil)
	require.NoError(t, err)
	features := []*Feature{d, v}

	assert.Equal(t, []string{"vext"}, Names(Matching(features, Target)))
	assert.Equal(t, []string{"debug"}, Names(Matching(features, Compile)))
	assert.Empty(t, Matching(features, Backend))

	assert.Equal(t, map[string][]string{"spike.exe": {"vext"}}, CacheFlags(features))
}

func TestCheckSupported(t *testing.T) {
	v, err := New(context.Background(), vext, nil)
	require.NoError(t, err)

	assert.NoError(t, CheckSupported([]*Feature{v}, Target, "spike", []string{"vext"}))
	assert.NoError(t, CheckSupported([]*Feature{v}, Backend, "tvmaot", nil))

	err = CheckSupported([]*Feature{v}, Target, "host_x86", nil)
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.ErrorContains(t, err, "host_x86 does not support vext")
}

func TestClone_IsIndependent(t *testing.T) {
	v, err := New(context.Background(), vext, nil)
	require.NoError(t, err)

	clones := CloneAll([]*Feature{v})
	clones[0].Config["vlen"] = 512

	assert.Equal(t, 128, v.Config["vlen"])
	assert.Same(t, v.Definition(), clones[0].Definition())
}
