// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin_test

import (
	"errors"
	"testing"

	"github.com/blinklabs-io/auctioneer/database/plugin"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlugin struct {
	pctx plugin.PluginContext
}

func (m *mockPlugin) Start() error { return nil }
func (m *mockPlugin) Stop() error  { return nil }

type mockOptions struct {
	host    string
	port    uint64
	workers int
	gc      bool
}

func registerMock(t *testing.T, opts *mockOptions) string {
	t.Helper()
	name := "mock-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type: plugin.PluginTypeMetadata,
		Name: name,
		NewFromOptionsFunc: func(pctx plugin.PluginContext) plugin.Plugin {
			return &mockPlugin{pctx: pctx}
		},
		Options: []plugin.PluginOption{
			{Name: "host", Type: plugin.PluginOptionTypeString, DefaultValue: "localhost", Dest: &opts.host},
			{Name: "port", Type: plugin.PluginOptionTypeUint, DefaultValue: uint64(5432), Dest: &opts.port},
			{Name: "workers", Type: plugin.PluginOptionTypeInt, DefaultValue: 2, Dest: &opts.workers},
			{Name: "gc", Type: plugin.PluginOptionTypeBool, DefaultValue: false, Dest: &opts.gc},
		},
	})
	return name
}

func TestRegisterAndGetPlugin(t *testing.T) {
	var opts mockOptions
	name := registerMock(t, &opts)
	p := plugin.GetPlugin(
		plugin.PluginTypeMetadata,
		name,
		plugin.PluginContext{DataDir: "/tmp/x"},
	)
	require.NotNil(t, p)
	mp, ok := p.(*mockPlugin)
	require.True(t, ok)
	assert.Equal(t, "/tmp/x", mp.pctx.DataDir)
	assert.Nil(t, plugin.GetPlugin(plugin.PluginTypeBlob, name, plugin.PluginContext{}))
	found := false
	for _, entry := range plugin.GetPlugins(plugin.PluginTypeMetadata) {
		if entry.Name == name {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStartPluginErrors(t *testing.T) {
	_, err := plugin.StartPlugin(plugin.PluginTypeBlob, "does-not-exist", plugin.PluginContext{})
	require.Error(t, err)
	errStart := errors.New("boom")
	name := "error-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type: plugin.PluginTypeBlob,
		Name: name,
		NewFromOptionsFunc: func(plugin.PluginContext) plugin.Plugin {
			return plugin.NewErrorPlugin(errStart)
		},
	})
	_, err = plugin.StartPlugin(plugin.PluginTypeBlob, name, plugin.PluginContext{})
	require.ErrorIs(t, err, errStart)
}

func TestSetPluginOption(t *testing.T) {
	var opts mockOptions
	name := registerMock(t, &opts)
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeMetadata, name, "host", "db.internal"))
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeMetadata, name, "port", 6543))
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeMetadata, name, "gc", true))
	assert.Equal(t, "db.internal", opts.host)
	assert.Equal(t, uint64(6543), opts.port)
	assert.True(t, opts.gc)
	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeMetadata, name, "host", 123))
	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeMetadata, name, "port", -1))
	// Unknown options are ignored
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeMetadata, name, "nope", "x"))
	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeMetadata, "missing", "host", "x"))
}

func TestProcessConfigAndEnv(t *testing.T) {
	var opts mockOptions
	name := registerMock(t, &opts)
	err := plugin.ProcessConfig(map[string]map[string]map[string]any{
		"metadata": {
			name: {"host": "cfg-host", "port": 7000, "workers": 8},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cfg-host", opts.host)
	assert.Equal(t, uint64(7000), opts.port)
	assert.Equal(t, 8, opts.workers)
	require.Error(t, plugin.ProcessConfig(map[string]map[string]map[string]any{"bogus": {}}))

	t.Setenv("AUCTIONEER_METADATA_"+envName(name)+"_GC", "true")
	require.NoError(t, plugin.ProcessEnvVars())
	assert.True(t, opts.gc)
}

func TestPopulateCmdlineOptions(t *testing.T) {
	var opts mockOptions
	name := registerMock(t, &opts)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, plugin.PopulateCmdlineOptions(fs))
	require.NoError(t, fs.Parse([]string{"--metadata-" + name + "-host=flag-host"}))
	assert.Equal(t, "flag-host", opts.host)
}

func envName(name string) string {
	ret := []byte(name)
	for i, c := range ret {
		switch {
		case c == '-':
			ret[i] = '_'
		case c >= 'a' && c <= 'z':
			ret[i] = c - 'a' + 'A'
		}
	}
	return string(ret)
}
